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

package world

import (
	"github.com/google/uuid"

	"StrixCore/protocol"
)

// GameMode is immutable per session except via an explicit mode-change
// command.
type GameMode int32

const (
	Survival GameMode = iota
	Creative
)

func (m GameMode) String() string {
	if m == Creative {
		return "creative"
	}
	return "survival"
}

func ParseGameMode(s string) GameMode {
	if s == "creative" {
		return Creative
	}
	return Survival
}

const (
	InventorySize = 36
	HotbarSize    = 9

	MaxHealth float32 = 20
	MaxHunger float32 = 20
)

// Slot is one inventory slot; Item 0 means empty.
type Slot struct {
	Item  uint16
	Count int
}

// Player is an entity plus account identity and gameplay state. Like
// every entity it is mutated only on the tick goroutine of the world it
// is joined to; between joins it is owned by the persistence layer.
type Player struct {
	Entity
	UUID     uuid.UUID
	Username string

	Hunger     float32
	Experience int32
	Level      int32
	GameMode   GameMode

	Inventory [InventorySize]Slot
	Selected  int // hotbar index

	hunger0 float32
}

func NewPlayer(id uuid.UUID, username string, mode GameMode, spawn [3]float64) *Player {
	return &Player{
		Entity: Entity{
			ID:       NewEntityID(),
			Kind:     KindPlayer,
			Position: spawn,
			Health:   MaxHealth,
		},
		UUID:     id,
		Username: username,
		Hunger:   MaxHunger,
		Level:    1,
		GameMode: mode,
	}
}

func (p *Player) diffFlags() byte {
	flags := p.Entity.diffFlags()
	if p.Hunger != p.hunger0 {
		flags |= protocol.DeltaHunger
	}
	return flags
}

func (p *Player) commitBroadcast() {
	p.Entity.commitBroadcast()
	p.hunger0 = p.Hunger
}

const xpPerLevel = 100

// AddExperience grants experience, advancing the level every
// xpPerLevel points. Reports whether the level changed.
func (p *Player) AddExperience(amount int32) bool {
	p.Experience += amount
	leveled := false
	for p.Experience >= xpPerLevel {
		p.Experience -= xpPerLevel
		p.Level++
		leveled = true
	}
	return leveled
}

// AddItem inserts count items into the first stacking or empty slots
// and returns the count that did not fit.
func (p *Player) AddItem(item uint16, count int) (leftover int) {
	const maxStack = 64
	if item == BlockAir || count <= 0 {
		return 0
	}
	for i := range p.Inventory {
		s := &p.Inventory[i]
		if s.Item != item || s.Count >= maxStack {
			continue
		}
		n := min(count, maxStack-s.Count)
		s.Count += n
		count -= n
		if count == 0 {
			return 0
		}
	}
	for i := range p.Inventory {
		s := &p.Inventory[i]
		if s.Count != 0 {
			continue
		}
		n := min(count, maxStack)
		*s = Slot{Item: item, Count: n}
		count -= n
		if count == 0 {
			return 0
		}
	}
	return count
}

// RemoveItem takes count items of the given kind from anywhere in the
// inventory; it reports false and removes nothing when short.
func (p *Player) RemoveItem(item uint16, count int) bool {
	have := 0
	for _, s := range p.Inventory {
		if s.Item == item {
			have += s.Count
		}
	}
	if have < count {
		return false
	}
	for i := range p.Inventory {
		s := &p.Inventory[i]
		if s.Item != item {
			continue
		}
		n := min(count, s.Count)
		s.Count -= n
		count -= n
		if s.Count == 0 {
			s.Item = BlockAir
		}
		if count == 0 {
			break
		}
	}
	return true
}

// MoveItem moves up to count items between two slots; a zero count
// moves the whole stack. Moving onto a different item swaps the stacks.
func (p *Player) MoveItem(from, to, count int) bool {
	if from < 0 || from >= InventorySize || to < 0 || to >= InventorySize || from == to {
		return false
	}
	src, dst := &p.Inventory[from], &p.Inventory[to]
	if src.Count == 0 {
		return false
	}
	if count <= 0 || count > src.Count {
		count = src.Count
	}
	switch {
	case dst.Count == 0:
		*dst = Slot{Item: src.Item, Count: count}
		src.Count -= count
	case dst.Item == src.Item:
		dst.Count += count
		src.Count -= count
	default:
		*src, *dst = *dst, *src
	}
	if src.Count == 0 {
		src.Item = BlockAir
	}
	return true
}

// Info builds the client-facing view of the player.
func (p *Player) Info() *protocol.PlayerInfo {
	info := &protocol.PlayerInfo{
		ID:           p.UUID.String(),
		Username:     p.Username,
		Position:     p.Position,
		Rotation:     p.Rotation,
		Health:       p.Health,
		Hunger:       p.Hunger,
		Experience:   p.Experience,
		Level:        p.Level,
		GameMode:     p.GameMode.String(),
		SelectedSlot: p.Selected,
	}
	for i, s := range p.Inventory {
		if s.Count > 0 {
			info.Inventory = append(info.Inventory, protocol.InventorySlot{Slot: i, Item: s.Item, Count: s.Count})
		}
	}
	return info
}
