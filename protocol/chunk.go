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
	"encoding/binary"
	"fmt"

	pk "github.com/Tnze/go-mc/net/packet"
	"github.com/klauspost/compress/zstd"
)

// Chunk geometry. Array lengths are fixed by these and never resized.
const (
	ChunkSizeX = 16
	ChunkSizeZ = 16
	ChunkSizeY = 256

	ChunkVolume = ChunkSizeX * ChunkSizeZ * ChunkSizeY

	// MaxBlockID bounds the reserved block-id space; 0 is air.
	MaxBlockID = 4095

	// ChunkFormatVersion travels in the chunk_data header.
	ChunkFormatVersion = 1
)

// ChunkData is the bulk payload of a chunk_data message: the full block,
// metadata and light arrays of one chunk column.
//
// Light packs sky level in the high nibble and block level in the low
// nibble of each byte.
type ChunkData struct {
	X, Z   int32
	Blocks []uint16
	Meta   []byte
	Light  []byte
}

const chunkBodyLen = ChunkVolume*2 + ChunkVolume + ChunkVolume

// Shared stateless zstd coders; EncodeAll/DecodeAll are safe for
// concurrent use.
var (
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDec, _ = zstd.NewReader(nil)
)

// PackLight combines two 4-bit light levels into one byte.
func PackLight(sky, block byte) byte { return sky<<4 | block&0x0f }

// SkyLight extracts the sky nibble of a packed light byte.
func SkyLight(l byte) byte { return l >> 4 }

// BlockLight extracts the block nibble of a packed light byte.
func BlockLight(l byte) byte { return l & 0x0f }

// MarshalBinary lays the chunk out as header (x, z, format version)
// followed by the zstd-compressed block/metadata/light arrays.
func (c *ChunkData) MarshalBinary() ([]byte, error) {
	if len(c.Blocks) != ChunkVolume || len(c.Meta) != ChunkVolume || len(c.Light) != ChunkVolume {
		return nil, fmt.Errorf("chunk (%d,%d) has wrong array lengths: %d/%d/%d",
			c.X, c.Z, len(c.Blocks), len(c.Meta), len(c.Light))
	}

	raw := make([]byte, chunkBodyLen)
	for i, b := range c.Blocks {
		binary.BigEndian.PutUint16(raw[i*2:], b)
	}
	copy(raw[ChunkVolume*2:], c.Meta)
	copy(raw[ChunkVolume*3:], c.Light)

	var buf bytes.Buffer
	_, _ = pk.Int(c.X).WriteTo(&buf)
	_, _ = pk.Int(c.Z).WriteTo(&buf)
	_, _ = pk.Byte(ChunkFormatVersion).WriteTo(&buf)
	buf.Write(zstdEnc.EncodeAll(raw, nil))
	return buf.Bytes(), nil
}

// UnmarshalBinary is the inverse of MarshalBinary. Truncated or
// length-mismatched buffers fail with ErrMalformedPayload; the error is
// non-fatal to the connection.
func (c *ChunkData) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var (
		x, z    pk.Int
		version pk.Byte
	)
	if _, err := x.ReadFrom(r); err != nil {
		return fmt.Errorf("%w: chunk header: %v", ErrMalformedPayload, err)
	}
	if _, err := z.ReadFrom(r); err != nil {
		return fmt.Errorf("%w: chunk header: %v", ErrMalformedPayload, err)
	}
	if _, err := version.ReadFrom(r); err != nil {
		return fmt.Errorf("%w: chunk header: %v", ErrMalformedPayload, err)
	}
	if version != ChunkFormatVersion {
		return fmt.Errorf("%w: chunk format version %d", ErrMalformedPayload, version)
	}

	raw, err := zstdDec.DecodeAll(data[len(data)-r.Len():], nil)
	if err != nil {
		return fmt.Errorf("%w: chunk body: %v", ErrMalformedPayload, err)
	}
	if len(raw) != chunkBodyLen {
		return fmt.Errorf("%w: chunk body is %d bytes, want %d", ErrMalformedPayload, len(raw), chunkBodyLen)
	}

	c.X, c.Z = int32(x), int32(z)
	c.Blocks = make([]uint16, ChunkVolume)
	for i := range c.Blocks {
		id := binary.BigEndian.Uint16(raw[i*2:])
		if id > MaxBlockID {
			return fmt.Errorf("%w: block id %d at voxel %d", ErrMalformedPayload, id, i)
		}
		c.Blocks[i] = id
	}
	c.Meta = make([]byte, ChunkVolume)
	copy(c.Meta, raw[ChunkVolume*2:])
	c.Light = make([]byte, ChunkVolume)
	copy(c.Light, raw[ChunkVolume*3:])
	return nil
}
