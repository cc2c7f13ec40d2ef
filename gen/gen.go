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

// Package gen procedurally generates chunk columns. Output is a pure
// function of (seed, x, z): the same column generates identically on
// every server and every restart.
package gen

import (
	"context"
	"math"

	"StrixCore/world"
)

// Terrain layering around the base height.
const (
	baseHeight   = 64
	heightRange  = 24
	dirtDepth    = 3
	bedrockLevel = 0
)

// Heightmap is a value-noise terrain generator.
type Heightmap struct{}

var _ world.Generator = Heightmap{}

// GenerateChunk implements world.Generator.
func (Heightmap) GenerateChunk(ctx context.Context, seed int64, pos world.ChunkPos) (*world.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := world.NewChunk(pos)
	for z := int32(0); z < world.ChunkSizeZ; z++ {
		for x := int32(0); x < world.ChunkSizeX; x++ {
			wx := pos[0]*world.ChunkSizeX + x
			wz := pos[1]*world.ChunkSizeZ + z
			h := surfaceHeight(seed, wx, wz)

			c.SetBlock(x, bedrockLevel, z, world.BlockBedrock, 0)
			for y := int32(bedrockLevel + 1); y < h-dirtDepth; y++ {
				c.SetBlock(x, y, z, world.BlockStone, 0)
			}
			for y := h - dirtDepth; y < h; y++ {
				if y > bedrockLevel {
					c.SetBlock(x, y, z, world.BlockDirt, 0)
				}
			}
			c.SetBlock(x, h, z, world.BlockGrass, 0)
		}
	}
	c.Dirty = false
	return c, nil
}

// surfaceHeight is smoothed value noise over a 32-block lattice plus a
// finer 8-block octave.
func surfaceHeight(seed int64, x, z int32) int32 {
	coarse := noise2(seed, x, z, 32)
	fine := noise2(seed^0x9e3779b9, x, z, 8)
	h := baseHeight + int32(math.Round((coarse*0.75+fine*0.25)*heightRange))
	if h < bedrockLevel+dirtDepth+1 {
		h = bedrockLevel + dirtDepth + 1
	}
	if h > world.ChunkSizeY-2 {
		h = world.ChunkSizeY - 2
	}
	return h
}

// noise2 returns smoothed lattice noise in [-1, 1] at the given scale.
func noise2(seed int64, x, z int32, scale int32) float64 {
	gx, gz := floorDiv(x, scale), floorDiv(z, scale)
	fx := float64(x-gx*scale) / float64(scale)
	fz := float64(z-gz*scale) / float64(scale)

	v00 := lattice(seed, gx, gz)
	v10 := lattice(seed, gx+1, gz)
	v01 := lattice(seed, gx, gz+1)
	v11 := lattice(seed, gx+1, gz+1)

	sx, sz := smooth(fx), smooth(fz)
	return lerp(lerp(v00, v10, sx), lerp(v01, v11, sx), sz)
}

// lattice hashes a grid point into [-1, 1]. splitmix64 finalizer.
func lattice(seed int64, gx, gz int32) float64 {
	h := uint64(seed) ^ uint64(uint32(gx))<<32 ^ uint64(uint32(gz))
	h += 0x9e3779b97f4a7c15
	h = (h ^ (h >> 30)) * 0xbf58476d1ce4e5b9
	h = (h ^ (h >> 27)) * 0x94d049bb133111eb
	h ^= h >> 31
	return float64(h>>11)/float64(1<<53)*2 - 1
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func floorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
