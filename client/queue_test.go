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

package client

import (
	"testing"

	"StrixCore/protocol"
)

func TestQueueControlOrdered(t *testing.T) {
	q := newSendQueue()
	q.PushControl([]byte{1})
	q.PushControl([]byte{2})
	q.PushControl([]byte{3})

	frames, batch, ok := q.Pull()
	if !ok || batch != nil {
		t.Fatalf("ok=%v batch=%v, want control only", ok, batch)
	}
	if len(frames) != 3 || frames[0][0] != 1 || frames[2][0] != 3 {
		t.Fatalf("frames %v, want FIFO 1..3", frames)
	}
}

func TestQueueControlBacklogBound(t *testing.T) {
	q := newSendQueue()
	for i := 0; i < maxControlBacklog; i++ {
		if !q.PushControl([]byte{0}) {
			t.Fatalf("push %d rejected below the bound", i)
		}
	}
	if q.PushControl([]byte{0}) {
		t.Error("push above the bound accepted")
	}
}

func TestQueueDeltaSupersede(t *testing.T) {
	q := newSendQueue()
	q.PushDeltas(&protocol.EntityBatch{Deltas: []protocol.EntityDelta{
		{EntityID: 7, Tick: 1, Flags: protocol.DeltaPosition, Position: [3]float64{1, 0, 0}},
		{EntityID: 9, Tick: 1, Flags: protocol.DeltaHealth, Health: 5},
	}})
	q.PushDeltas(&protocol.EntityBatch{Deltas: []protocol.EntityDelta{
		{EntityID: 7, Tick: 2, Flags: protocol.DeltaRotation, Position: [3]float64{2, 0, 0}, Rotation: [2]float32{90, 0}},
	}})

	_, batch, ok := q.Pull()
	if !ok || batch == nil {
		t.Fatal("no batch pulled")
	}
	if len(batch.Deltas) != 2 {
		t.Fatalf("batch holds %d deltas, want one per entity", len(batch.Deltas))
	}
	var seven protocol.EntityDelta
	for _, d := range batch.Deltas {
		if d.EntityID == 7 {
			seven = d
		}
	}
	if seven.Flags != protocol.DeltaPosition|protocol.DeltaRotation {
		t.Errorf("flags %b, want the union of superseded flags", seven.Flags)
	}
	if seven.Position[0] != 2 || seven.Tick != 2 {
		t.Errorf("superseded delta kept stale values: %+v", seven)
	}
}

func TestQueuePullAfterClose(t *testing.T) {
	q := newSendQueue()
	q.PushControl([]byte{1})
	q.Close()
	if _, _, ok := q.Pull(); ok {
		t.Error("pull from a closed queue reported ok")
	}
}
