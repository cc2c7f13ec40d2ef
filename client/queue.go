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
	"sync"

	"StrixCore/protocol"
)

// maxControlBacklog bounds the per-session control backlog. A session
// that cannot keep up with chunk and control traffic is disconnected
// rather than allowed to grow an unbounded queue.
const maxControlBacklog = 512

// sendQueue is the per-session outbound buffer between the tick
// goroutine (producer) and the write pump (consumer). Traffic falls in
// two classes: control frames are delivered in order and never dropped;
// entity deltas are superseded in place, so a slow consumer receives
// one fresh delta per entity instead of the full history.
type sendQueue struct {
	mu   sync.Mutex
	cond sync.Cond

	control    [][]byte
	deltas     map[int32]protocol.EntityDelta
	deltaOrder []int32
	closed     bool
}

func newSendQueue() *sendQueue {
	q := &sendQueue{deltas: make(map[int32]protocol.EntityDelta)}
	q.cond.L = &q.mu
	return q
}

// PushControl appends an encoded frame. Reports false when the backlog
// bound is exceeded; the caller must treat that as a dead session.
func (q *sendQueue) PushControl(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return true // silently dropped, session is going away
	}
	if len(q.control) >= maxControlBacklog {
		return false
	}
	q.control = append(q.control, frame)
	q.cond.Signal()
	return true
}

// PushDeltas merges a batch into the pending delta set. An unsent delta
// for the same entity is superseded: flags are unioned and the newer
// values win (every delta carries the entity's full current state, so
// the merge never resurrects stale fields).
func (q *sendQueue) PushDeltas(b *protocol.EntityBatch) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for _, d := range b.Deltas {
		if old, ok := q.deltas[d.EntityID]; ok {
			d.Flags |= old.Flags
		} else {
			q.deltaOrder = append(q.deltaOrder, d.EntityID)
		}
		q.deltas[d.EntityID] = d
	}
	q.cond.Signal()
}

// Pull blocks until traffic is available or the queue closes. Control
// frames come back intact; pending deltas are folded into one batch.
func (q *sendQueue) Pull() (frames [][]byte, batch *protocol.EntityBatch, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.control) == 0 && len(q.deltaOrder) == 0 {
		q.cond.Wait()
	}
	if q.closed {
		return nil, nil, false
	}
	frames = q.control
	q.control = nil
	if len(q.deltaOrder) > 0 {
		batch = &protocol.EntityBatch{Deltas: make([]protocol.EntityDelta, 0, len(q.deltaOrder))}
		for _, id := range q.deltaOrder {
			batch.Deltas = append(batch.Deltas, q.deltas[id])
			delete(q.deltas, id)
		}
		q.deltaOrder = q.deltaOrder[:0]
	}
	return frames, batch, true
}

// Close wakes the consumer; buffered traffic is discarded.
func (q *sendQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
