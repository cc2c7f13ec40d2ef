// This file is part of StrixCore.
//
// StrixCore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// StrixCore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package game

import (
	"testing"

	"github.com/google/uuid"

	"StrixCore/protocol"
	"StrixCore/world"
)

func TestShapedRecipeMatchesTranslated(t *testing.T) {
	book := defaultRecipes()

	// 2x2 stone square placed in the bottom-right corner still crafts
	// stone bricks.
	req := &protocol.CraftingRequest{Grid: [9]uint16{
		0, 0, 0,
		0, world.BlockStone, world.BlockStone,
		0, world.BlockStone, world.BlockStone,
	}}
	r, ok := book.Match(req)
	if !ok || r.ID != "stone_bricks" {
		t.Fatalf("match = %v, %v; want stone_bricks", r, ok)
	}

	// Mirrored L shape must not match.
	req.Grid = [9]uint16{
		world.BlockStone, world.BlockStone, 0,
		world.BlockStone, 0, 0,
		0, 0, 0,
	}
	if _, ok := book.Match(req); ok {
		t.Error("partial pattern matched a full recipe")
	}
}

func TestShapelessRecipeIgnoresPlacement(t *testing.T) {
	book := defaultRecipes()
	for _, cell := range []int{0, 4, 8} {
		var req protocol.CraftingRequest
		req.Grid[cell] = world.BlockDirt
		req.Counts[cell] = 1
		r, ok := book.Match(&req)
		if !ok || r.ID != "planks" {
			t.Fatalf("cell %d: match = %v, %v; want planks", cell, r, ok)
		}
	}
}

func TestRecipeIDNarrowsMatch(t *testing.T) {
	book := defaultRecipes()
	var req protocol.CraftingRequest
	req.Grid[0] = world.BlockDirt
	req.RecipeID = "sticks"
	if _, ok := book.Match(&req); ok {
		t.Error("dirt grid matched the sticks recipe by id")
	}
	req.RecipeID = "planks"
	if _, ok := book.Match(&req); !ok {
		t.Error("explicit planks id rejected a valid grid")
	}
}

func TestConsumeGridAllOrNothing(t *testing.T) {
	p := world.NewPlayer(uuid.New(), "alice", world.Survival, [3]float64{})
	p.Inventory[0] = world.Slot{Item: world.BlockStone, Count: 3}

	grid := [9]uint16{world.BlockStone, world.BlockStone, 0, world.BlockStone, world.BlockStone, 0, 0, 0, 0}
	if consumeGrid(p, grid, [9]int{1, 1, 0, 1, 1}) {
		t.Fatal("consumed more stone than the player holds")
	}
	if p.Inventory[0].Count != 3 {
		t.Errorf("failed consume mutated the inventory: %+v", p.Inventory[0])
	}

	p.Inventory[0].Count = 4
	if !consumeGrid(p, grid, [9]int{1, 1, 0, 1, 1}) {
		t.Fatal("exact consume rejected")
	}
	if p.Inventory[0].Count != 0 || p.Inventory[0].Item != 0 {
		t.Errorf("slot after consume: %+v, want empty", p.Inventory[0])
	}
}
