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
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := MarshalBody(MsgAuthRequest, &AuthRequest{Username: "steve", Password: "hunter2"})
	if err != nil {
		t.Fatal(err)
	}
	in := Envelope{Type: MsgAuthRequest, ID: 42, Timestamp: 1700000000000, Payload: payload}

	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatal(err)
	}
	if out.Type != in.Type || out.ID != in.ID || out.Timestamp != in.Timestamp {
		t.Fatalf("header mismatch: got %+v, want %+v", out, in)
	}

	body, err := UnmarshalBody(out)
	if err != nil {
		t.Fatal(err)
	}
	req, ok := body.(*AuthRequest)
	if !ok || req.Username != "steve" || req.Password != "hunter2" {
		t.Fatalf("body mismatch: %#v", body)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	data := Encode(Envelope{Type: msgTypeGuard + 7, ID: 1})
	if _, err := Decode(data); !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("got %v, want ErrUnknownMessageType", err)
	}
}

func TestDecodeTruncatedEnvelope(t *testing.T) {
	data := Encode(Envelope{Type: MsgPing, ID: 9, Timestamp: 12345})
	for cut := 0; cut < len(data); cut++ {
		if _, err := Decode(data[:cut]); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("cut=%d: got %v, want ErrMalformedPayload", cut, err)
		}
	}
}

func TestUnmarshalMalformedControlBody(t *testing.T) {
	env := Envelope{Type: MsgBlockUpdate, Payload: []byte(`{"x": "not a number"}`)}
	if _, err := UnmarshalBody(env); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("got %v, want ErrMalformedPayload", err)
	}
}

func TestChunkDataRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	in := &ChunkData{
		X:      -3,
		Z:      7,
		Blocks: make([]uint16, ChunkVolume),
		Meta:   make([]byte, ChunkVolume),
		Light:  make([]byte, ChunkVolume),
	}
	for i := range in.Blocks {
		in.Blocks[i] = uint16(rng.Intn(MaxBlockID + 1))
		in.Meta[i] = byte(rng.Intn(256))
		in.Light[i] = PackLight(byte(rng.Intn(16)), byte(rng.Intn(16)))
	}

	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	out := &ChunkData{}
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatal("decoded chunk differs from original")
	}
}

func TestChunkDataRejectsWrongLengths(t *testing.T) {
	c := &ChunkData{Blocks: make([]uint16, 10), Meta: make([]byte, 10), Light: make([]byte, 10)}
	if _, err := c.MarshalBinary(); err == nil {
		t.Fatal("marshal accepted short arrays")
	}
}

func TestChunkDataRejectsTruncatedBuffer(t *testing.T) {
	in := &ChunkData{
		Blocks: make([]uint16, ChunkVolume),
		Meta:   make([]byte, ChunkVolume),
		Light:  make([]byte, ChunkVolume),
	}
	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	out := &ChunkData{}
	if err := out.UnmarshalBinary(data[:6]); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("truncated header: got %v, want ErrMalformedPayload", err)
	}
	if err := out.UnmarshalBinary(data[:len(data)-1]); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("truncated body: got %v, want ErrMalformedPayload", err)
	}
}

func TestLightPacking(t *testing.T) {
	for sky := byte(0); sky < 16; sky++ {
		for block := byte(0); block < 16; block++ {
			l := PackLight(sky, block)
			if SkyLight(l) != sky || BlockLight(l) != block {
				t.Fatalf("pack(%d,%d) = %#x unpacks to (%d,%d)", sky, block, l, SkyLight(l), BlockLight(l))
			}
		}
	}
}

func TestEntityBatchRoundTrip(t *testing.T) {
	in := &EntityBatch{Deltas: []EntityDelta{
		{
			EntityID: 1,
			Tick:     99,
			Flags:    DeltaPosition | DeltaRotation,
			Position: [3]float64{1.5, 64, -20.25},
			Rotation: [2]float32{90, -45},
		},
		{
			EntityID: 2,
			Tick:     100,
			Flags:    DeltaHealth | DeltaHunger,
			Health:   17.5,
			Hunger:   3,
		},
		{EntityID: 3, Tick: 100, Flags: 0},
	}}

	out := &EntityBatch{}
	if err := out.UnmarshalBinary(in.MarshalBinary()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestEntityBatchRejectsTrailingBytes(t *testing.T) {
	in := &EntityBatch{Deltas: []EntityDelta{{EntityID: 1, Tick: 1}}}
	data := append(in.MarshalBinary(), 0xde, 0xad)
	if err := (&EntityBatch{}).UnmarshalBinary(data); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("got %v, want ErrMalformedPayload", err)
	}
}
