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

	"StrixCore/protocol"
)

// ChunkPos addresses a chunk column by its integer (x, z) coordinates.
type ChunkPos [2]int32

// ChunkPosAt returns the chunk column containing a world position.
// Block coordinates floor, so x=-0.5 lies in block -1, chunk -1.
func ChunkPosAt(pos [3]float64) ChunkPos {
	return ChunkPos{
		int32(math.Floor(pos[0])) >> 4,
		int32(math.Floor(pos[2])) >> 4,
	}
}

// Chunk is the authoritative block data of one 16x16x256 column. The
// three voxel arrays are parallel; their lengths are fixed by the chunk
// volume and never resized.
//
// A Chunk is owned exclusively by its ChunkStore: after installation
// every access happens on the world's tick goroutine.
type Chunk struct {
	Pos       ChunkPos
	Blocks    []uint16
	Meta      []byte
	Light     []byte
	HeightMap []byte // 16x16, highest non-air block per column
	Dirty     bool
}

// NewChunk allocates an all-air chunk with full sky light.
func NewChunk(pos ChunkPos) *Chunk {
	c := &Chunk{
		Pos:       pos,
		Blocks:    make([]uint16, protocol.ChunkVolume),
		Meta:      make([]byte, protocol.ChunkVolume),
		Light:     make([]byte, protocol.ChunkVolume),
		HeightMap: make([]byte, protocol.ChunkSizeX*protocol.ChunkSizeZ),
	}
	for i := range c.Light {
		c.Light[i] = protocol.PackLight(15, 0)
	}
	return c
}

// voxelIndex maps local coordinates into the parallel arrays.
func voxelIndex(x, y, z int32) int {
	return int(y)*protocol.ChunkSizeX*protocol.ChunkSizeZ + int(z)*protocol.ChunkSizeX + int(x)
}

// Block returns the block id at local coordinates.
func (c *Chunk) Block(x, y, z int32) uint16 {
	return c.Blocks[voxelIndex(x, y, z)]
}

// SetBlock writes a voxel and returns the previous block id. The dirty
// flag is raised and the height map is kept consistent.
func (c *Chunk) SetBlock(x, y, z int32, id uint16, meta byte) (prev uint16) {
	i := voxelIndex(x, y, z)
	prev = c.Blocks[i]
	c.Blocks[i] = id
	c.Meta[i] = meta
	c.Dirty = true

	col := int(z)*protocol.ChunkSizeX + int(x)
	switch {
	case id != BlockAir && int32(c.HeightMap[col]) < y:
		c.HeightMap[col] = byte(y)
	case id == BlockAir && int32(c.HeightMap[col]) == y:
		// Highest block removed, scan down for the new top.
		yy := y - 1
		for yy > 0 && c.Blocks[voxelIndex(x, yy, z)] == BlockAir {
			yy--
		}
		c.HeightMap[col] = byte(yy)
	}
	return prev
}

// Payload converts the chunk into its wire form. The voxel arrays are
// shared, not copied, so the result must be encoded before the tick
// goroutine mutates the chunk again.
func (c *Chunk) Payload() *protocol.ChunkData {
	return &protocol.ChunkData{
		X:      c.Pos[0],
		Z:      c.Pos[1],
		Blocks: c.Blocks,
		Meta:   c.Meta,
		Light:  c.Light,
	}
}

// Snapshot deep-copies the chunk so it can be handed to the persistence
// worker while the original stays mutable on the tick goroutine.
func (c *Chunk) Snapshot() *Chunk {
	s := &Chunk{
		Pos:       c.Pos,
		Blocks:    append([]uint16(nil), c.Blocks...),
		Meta:      append([]byte(nil), c.Meta...),
		Light:     append([]byte(nil), c.Light...),
		HeightMap: append([]byte(nil), c.HeightMap...),
		Dirty:     c.Dirty,
	}
	return s
}

// FromPayload rebuilds a chunk from its wire form, recomputing the
// height map.
func FromPayload(cd *protocol.ChunkData) *Chunk {
	c := &Chunk{
		Pos:       ChunkPos{cd.X, cd.Z},
		Blocks:    cd.Blocks,
		Meta:      cd.Meta,
		Light:     cd.Light,
		HeightMap: make([]byte, protocol.ChunkSizeX*protocol.ChunkSizeZ),
	}
	for z := int32(0); z < protocol.ChunkSizeZ; z++ {
		for x := int32(0); x < protocol.ChunkSizeX; x++ {
			for y := int32(protocol.ChunkSizeY - 1); y > 0; y-- {
				if c.Block(x, y, z) != BlockAir {
					c.HeightMap[int(z)*protocol.ChunkSizeX+int(x)] = byte(y)
					break
				}
			}
		}
	}
	return c
}

// Well-known block ids (the full palette is client data; the core only
// needs air and the generator's layering blocks).
// Chunk geometry, re-exported for collaborators that never touch the
// wire layer.
const (
	ChunkSizeX = protocol.ChunkSizeX
	ChunkSizeZ = protocol.ChunkSizeZ
	ChunkSizeY = protocol.ChunkSizeY
)

const (
	BlockAir     uint16 = 0
	BlockStone   uint16 = 1
	BlockGrass   uint16 = 2
	BlockDirt    uint16 = 3
	BlockBedrock uint16 = 7
)
