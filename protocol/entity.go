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

package protocol

import (
	"bytes"
	"fmt"

	pk "github.com/Tnze/go-mc/net/packet"
)

// Field flags of an EntityDelta. Only flagged fields travel on the wire.
const (
	DeltaPosition = 1 << iota
	DeltaRotation
	DeltaVelocity
	DeltaHealth
	DeltaHunger
)

// EntityDelta is one changed-fields record inside an entity_update
// batch. Tick is the entity's authority tick at broadcast time.
type EntityDelta struct {
	EntityID int32
	Tick     uint64
	Flags    byte
	Position [3]float64
	Rotation [2]float32
	Velocity [3]float32
	Health   float32
	Hunger   float32
}

// EntityBatch is the bulk payload of an entity_update message.
type EntityBatch struct {
	Deltas []EntityDelta
}

func (b *EntityBatch) MarshalBinary() []byte {
	var buf bytes.Buffer
	_, _ = pk.VarInt(len(b.Deltas)).WriteTo(&buf)
	for i := range b.Deltas {
		d := &b.Deltas[i]
		_, _ = pk.Int(d.EntityID).WriteTo(&buf)
		_, _ = pk.VarLong(d.Tick).WriteTo(&buf)
		_, _ = pk.Byte(d.Flags).WriteTo(&buf)
		if d.Flags&DeltaPosition != 0 {
			_, _ = pk.Tuple{pk.Double(d.Position[0]), pk.Double(d.Position[1]), pk.Double(d.Position[2])}.WriteTo(&buf)
		}
		if d.Flags&DeltaRotation != 0 {
			_, _ = pk.Tuple{pk.Float(d.Rotation[0]), pk.Float(d.Rotation[1])}.WriteTo(&buf)
		}
		if d.Flags&DeltaVelocity != 0 {
			_, _ = pk.Tuple{pk.Float(d.Velocity[0]), pk.Float(d.Velocity[1]), pk.Float(d.Velocity[2])}.WriteTo(&buf)
		}
		if d.Flags&DeltaHealth != 0 {
			_, _ = pk.Float(d.Health).WriteTo(&buf)
		}
		if d.Flags&DeltaHunger != 0 {
			_, _ = pk.Float(d.Hunger).WriteTo(&buf)
		}
	}
	return buf.Bytes()
}

func (b *EntityBatch) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var count pk.VarInt
	if _, err := count.ReadFrom(r); err != nil {
		return fmt.Errorf("%w: entity batch count: %v", ErrMalformedPayload, err)
	}
	if count < 0 || int(count) > ChunkVolume {
		return fmt.Errorf("%w: entity batch count %d", ErrMalformedPayload, count)
	}
	b.Deltas = make([]EntityDelta, count)
	for i := range b.Deltas {
		d := &b.Deltas[i]
		var (
			id    pk.Int
			tick  pk.VarLong
			flags pk.Byte
		)
		if _, err := (pk.Tuple{&id, &tick, &flags}).ReadFrom(r); err != nil {
			return fmt.Errorf("%w: entity delta header: %v", ErrMalformedPayload, err)
		}
		d.EntityID, d.Tick, d.Flags = int32(id), uint64(tick), byte(flags)
		if d.Flags&DeltaPosition != 0 {
			var x, y, z pk.Double
			if _, err := (pk.Tuple{&x, &y, &z}).ReadFrom(r); err != nil {
				return fmt.Errorf("%w: entity position: %v", ErrMalformedPayload, err)
			}
			d.Position = [3]float64{float64(x), float64(y), float64(z)}
		}
		if d.Flags&DeltaRotation != 0 {
			var yaw, pitch pk.Float
			if _, err := (pk.Tuple{&yaw, &pitch}).ReadFrom(r); err != nil {
				return fmt.Errorf("%w: entity rotation: %v", ErrMalformedPayload, err)
			}
			d.Rotation = [2]float32{float32(yaw), float32(pitch)}
		}
		if d.Flags&DeltaVelocity != 0 {
			var vx, vy, vz pk.Float
			if _, err := (pk.Tuple{&vx, &vy, &vz}).ReadFrom(r); err != nil {
				return fmt.Errorf("%w: entity velocity: %v", ErrMalformedPayload, err)
			}
			d.Velocity = [3]float32{float32(vx), float32(vy), float32(vz)}
		}
		if d.Flags&DeltaHealth != 0 {
			var h pk.Float
			if _, err := h.ReadFrom(r); err != nil {
				return fmt.Errorf("%w: entity health: %v", ErrMalformedPayload, err)
			}
			d.Health = float32(h)
		}
		if d.Flags&DeltaHunger != 0 {
			var h pk.Float
			if _, err := h.ReadFrom(r); err != nil {
				return fmt.Errorf("%w: entity hunger: %v", ErrMalformedPayload, err)
			}
			d.Hunger = float32(h)
		}
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes after entity batch", ErrMalformedPayload, r.Len())
	}
	return nil
}
