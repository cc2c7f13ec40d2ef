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
	"StrixCore/protocol"
	"StrixCore/world"
)

// Recipe is one crafting rule over a 3x3 grid. Shaped recipes match the
// grid pattern translated to the top-left corner; shapeless recipes
// match the ingredient multiset regardless of placement.
type Recipe struct {
	ID          string
	Shaped      bool
	Pattern     [9]uint16      // shaped: normalized grid, 0 for empty
	Ingredients map[uint16]int // shapeless: item -> count
	Result      uint16
	Count       int
}

// Crafted item ids outside the terrain block range.
const (
	ItemPlanks      uint16 = 16
	ItemStick       uint16 = 17
	ItemStoneBricks uint16 = 18
	ItemFurnace     uint16 = 19
)

// recipeBook holds the registered recipes, shaped first so a grid that
// satisfies both kinds resolves to the shaped one.
type recipeBook struct {
	shaped    []Recipe
	shapeless []Recipe
	byID      map[string]*Recipe
}

func defaultRecipes() *recipeBook {
	b := &recipeBook{byID: make(map[string]*Recipe)}
	for _, r := range []Recipe{
		{
			ID: "stone_bricks", Shaped: true,
			Pattern: [9]uint16{
				world.BlockStone, world.BlockStone, 0,
				world.BlockStone, world.BlockStone, 0,
				0, 0, 0,
			},
			Result: ItemStoneBricks, Count: 4,
		},
		{
			ID: "furnace", Shaped: true,
			Pattern: [9]uint16{
				world.BlockStone, world.BlockStone, world.BlockStone,
				world.BlockStone, 0, world.BlockStone,
				world.BlockStone, world.BlockStone, world.BlockStone,
			},
			Result: ItemFurnace, Count: 1,
		},
		{
			ID:          "planks",
			Ingredients: map[uint16]int{world.BlockDirt: 1},
			Result:      ItemPlanks, Count: 4,
		},
		{
			ID:          "sticks",
			Ingredients: map[uint16]int{ItemPlanks: 2},
			Result:      ItemStick, Count: 4,
		},
	} {
		b.add(r)
	}
	return b
}

func (b *recipeBook) add(r Recipe) {
	if r.Shaped {
		b.shaped = append(b.shaped, r)
		b.byID[r.ID] = &b.shaped[len(b.shaped)-1]
	} else {
		b.shapeless = append(b.shapeless, r)
		b.byID[r.ID] = &b.shapeless[len(b.shapeless)-1]
	}
}

// Match resolves a grid to a recipe. An explicit recipe id narrows the
// search to that recipe only.
func (b *recipeBook) Match(req *protocol.CraftingRequest) (*Recipe, bool) {
	if req.RecipeID != "" {
		r, ok := b.byID[req.RecipeID]
		if !ok {
			return nil, false
		}
		if r.Shaped && matchShaped(r, req.Grid) || !r.Shaped && matchShapeless(r, req.Grid, req.Counts) {
			return r, true
		}
		return nil, false
	}
	for i := range b.shaped {
		if matchShaped(&b.shaped[i], req.Grid) {
			return &b.shaped[i], true
		}
	}
	for i := range b.shapeless {
		if matchShapeless(&b.shapeless[i], req.Grid, req.Counts) {
			return &b.shapeless[i], true
		}
	}
	return nil, false
}

// matchShaped compares the grid to the pattern after translating the
// occupied cells to the top-left corner.
func matchShaped(r *Recipe, grid [9]uint16) bool {
	minRow, minCol := 3, 3
	for i, id := range grid {
		if id != 0 {
			if row := i / 3; row < minRow {
				minRow = row
			}
			if col := i % 3; col < minCol {
				minCol = col
			}
		}
	}
	if minRow == 3 {
		return false // empty grid
	}
	var normalized [9]uint16
	for i, id := range grid {
		if id == 0 {
			continue
		}
		row, col := i/3-minRow, i%3-minCol
		normalized[row*3+col] = id
	}
	return normalized == r.Pattern
}

func matchShapeless(r *Recipe, grid [9]uint16, counts [9]int) bool {
	have := make(map[uint16]int)
	for i, id := range grid {
		if id == 0 {
			continue
		}
		n := counts[i]
		if n <= 0 {
			n = 1
		}
		have[id] += n
	}
	if len(have) != len(r.Ingredients) {
		return false
	}
	for id, n := range r.Ingredients {
		if have[id] != n {
			return false
		}
	}
	return true
}

// consume removes the grid's ingredients from the player inventory.
// All-or-nothing: on any shortage the inventory is left untouched.
func consumeGrid(p *world.Player, grid [9]uint16, counts [9]int) bool {
	need := make(map[uint16]int)
	for i, id := range grid {
		if id == 0 {
			continue
		}
		n := counts[i]
		if n <= 0 {
			n = 1
		}
		need[id] += n
	}
	// Verify before mutating; RemoveItem is all-or-nothing per item but
	// not across items.
	for id, n := range need {
		total := 0
		for _, sl := range p.Inventory {
			if sl.Item == id {
				total += sl.Count
			}
		}
		if total < n {
			return false
		}
	}
	for id, n := range need {
		p.RemoveItem(id, n)
	}
	return true
}
