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
	"math"
	"sync/atomic"

	"StrixCore/protocol"
)

var entityCounter atomic.Int32

// NewEntityID returns a world-unique entity id.
func NewEntityID() int32 {
	return entityCounter.Add(1)
}

// EntityKind tags what an entity is; the core only distinguishes the
// broad classes, gameplay semantics live outside.
type EntityKind string

const (
	KindPlayer EntityKind = "player"
	KindMob    EntityKind = "mob"
	KindItem   EntityKind = "item"
)

// Entity is any world object with a transform. It is owned by the
// world; sessions only ever hold last-broadcast copies for diffing.
//
// Tick is the authority tick: it is bumped to the current world tick on
// every authoritative mutation, and the sync engine broadcasts exactly
// the entities whose Tick advanced past the last broadcast.
type Entity struct {
	ID       int32
	Kind     EntityKind
	Position [3]float64
	Rotation [2]float32
	Velocity [3]float32
	Health   float32
	Tick     uint64

	// Last-broadcast snapshot, owned by the sync engine.
	pos0    [3]float64
	rot0    [2]float32
	vel0    [3]float32
	health0 float32
}

// moveEpsilon is the minimal transform change worth broadcasting.
const moveEpsilon = 1.0 / 256

// Touch records an authoritative mutation at the given world tick.
func (e *Entity) Touch(tick uint64) { e.Tick = tick }

// ChunkPos returns the column currently containing the entity.
func (e *Entity) ChunkPos() ChunkPos { return ChunkPosAt(e.Position) }

// diffFlags compares the entity against its last-broadcast snapshot.
func (e *Entity) diffFlags() byte {
	var flags byte
	if dist2(e.Position, e.pos0) > moveEpsilon*moveEpsilon {
		flags |= protocol.DeltaPosition
	}
	if e.Rotation != e.rot0 {
		flags |= protocol.DeltaRotation
	}
	if e.Velocity != e.vel0 {
		flags |= protocol.DeltaVelocity
	}
	if e.Health != e.health0 {
		flags |= protocol.DeltaHealth
	}
	return flags
}

// commitBroadcast folds the current state into the snapshot.
func (e *Entity) commitBroadcast() {
	e.pos0 = e.Position
	e.rot0 = e.Rotation
	e.vel0 = e.Velocity
	e.health0 = e.Health
}

func dist2(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}

// WorldLimitXZ bounds horizontal coordinates. Keeping block coordinates
// well inside int32 keeps the chunk coordinate math overflow-free.
const WorldLimitXZ = 30_000_000

// ValidPosition rejects NaN, infinite and out-of-world coordinates
// before they can poison the authoritative state.
func ValidPosition(pos [3]float64) bool {
	for _, v := range pos {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if math.Abs(pos[0]) > WorldLimitXZ || math.Abs(pos[2]) > WorldLimitXZ {
		return false
	}
	return pos[1] >= 0 && pos[1] < protocol.ChunkSizeY
}
