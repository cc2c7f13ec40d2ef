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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"StrixCore/protocol"
)

// ChunkStore owns every loaded chunk of one world. All methods except
// the worker internals run on the world's tick goroutine; chunk data
// crosses to worker goroutines only as snapshots or after removal from
// the map.
type ChunkStore struct {
	log       *zap.Logger
	worldID   uuid.UUID
	seed      int64
	provider  ChunkProvider
	generator Generator

	chunks  map[ChunkPos]*LoadedChunk
	pending map[ChunkPos]*pendingChunk
	results chan loadResult
	limiter *rate.Limiter

	// swg bounds worker concurrency; jobs tracks completion so Close
	// can wait for goroutines that have not claimed a slot yet.
	swg           sizedwaitgroup.SizedWaitGroup
	jobs          sync.WaitGroup
	evictionGrace time.Duration
}

// LoadedChunk pairs a resident chunk with its subscriber set. The
// subscriber list and the session's visible set are two sides of one
// invariant and are only ever updated together (loader.go).
type LoadedChunk struct {
	*Chunk
	subscribers []Client
	emptySince  time.Time // zero while subscribed
}

// Subscribe adds a session to the chunk's subscriber set. Duplicate
// subscription is a logic error upstream (the visible set must have
// filtered it), so it panics rather than double-sending chunk data.
func (lc *LoadedChunk) Subscribe(c Client) {
	for _, c2 := range lc.subscribers {
		if c2 == c {
			panic("subscribe an existing subscriber")
		}
	}
	lc.subscribers = append(lc.subscribers, c)
}

// Unsubscribe removes a session from the subscriber set, swap-and-pop.
// The chunk becomes eviction-eligible when the set empties.
func (lc *LoadedChunk) Unsubscribe(c Client) bool {
	for i, c2 := range lc.subscribers {
		if c2 == c {
			last := len(lc.subscribers) - 1
			lc.subscribers[i] = lc.subscribers[last]
			lc.subscribers[last] = nil
			lc.subscribers = lc.subscribers[:last]
			if last == 0 {
				lc.emptySince = time.Now()
			}
			return true
		}
	}
	return false
}

// Subscribers exposes the subscriber list for broadcast fan-out. The
// returned slice is owned by the chunk; callers must not retain it.
func (lc *LoadedChunk) Subscribers() []Client { return lc.subscribers }

type pendingChunk struct {
	wanters map[Client]struct{}
	cancel  context.CancelFunc
}

type loadResult struct {
	pos   ChunkPos
	chunk *Chunk
	err   error
}

// Retry policy for the generation collaborator.
const (
	genRetries     = 4
	genBackoffBase = 100 * time.Millisecond
)

func NewChunkStore(log *zap.Logger, worldID uuid.UUID, seed int64, provider ChunkProvider, generator Generator, workers int, limiter *rate.Limiter, grace time.Duration) *ChunkStore {
	if workers <= 0 {
		workers = 4
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &ChunkStore{
		limiter:       limiter,
		log:           log,
		worldID:       worldID,
		seed:          seed,
		provider:      provider,
		generator:     generator,
		chunks:        make(map[ChunkPos]*LoadedChunk),
		pending:       make(map[ChunkPos]*pendingChunk),
		results:       make(chan loadResult, 64),
		swg:           sizedwaitgroup.New(workers),
		evictionGrace: grace,
	}
}

// Len reports the number of resident chunks.
func (s *ChunkStore) Len() int { return len(s.chunks) }

// Get returns a resident chunk or nil.
func (s *ChunkStore) Get(pos ChunkPos) *LoadedChunk { return s.chunks[pos] }

// GetOrSchedule returns the chunk if resident; otherwise it enqueues a
// load/generation job for the requesting client and reports pending.
// Concurrent requesters for the same column share a single job.
func (s *ChunkStore) GetOrSchedule(pos ChunkPos, requester Client) (*LoadedChunk, bool) {
	if lc, ok := s.chunks[pos]; ok {
		return lc, true
	}
	if p, ok := s.pending[pos]; ok {
		if requester != nil {
			p.wanters[requester] = struct{}{}
		}
		return nil, false
	}
	// World-wide cap on new jobs; the caller retries next tick.
	if !s.limiter.Allow() {
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pendingChunk{wanters: make(map[Client]struct{}), cancel: cancel}
	if requester != nil {
		p.wanters[requester] = struct{}{}
	}
	s.pending[pos] = p

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.swg.Add()
		defer s.swg.Done()
		c, err := s.loadOrGenerate(ctx, pos)
		select {
		case s.results <- loadResult{pos: pos, chunk: c, err: err}:
		case <-ctx.Done():
		}
	}()
	return nil, false
}

// loadOrGenerate runs on a worker goroutine: persistence first, then
// the generator with exponential backoff, then an empty placeholder so
// no requester is left permanently pending.
func (s *ChunkStore) loadOrGenerate(ctx context.Context, pos ChunkPos) (*Chunk, error) {
	c, err := s.provider.LoadChunk(ctx, s.worldID, pos)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrChunkNotExist) {
		s.log.Error("load chunk fail", zap.Int32("x", pos[0]), zap.Int32("z", pos[1]), zap.Error(err))
		// Fall through to generation rather than failing the requester.
	}

	backoff := genBackoffBase
	for attempt := 0; attempt < genRetries; attempt++ {
		c, err = s.generator.GenerateChunk(ctx, s.seed, pos)
		if err == nil {
			c.Dirty = true // newly generated, not yet persisted
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("generate chunk fail",
			zap.Int32("x", pos[0]), zap.Int32("z", pos[1]),
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	// Retries exhausted: substitute an empty chunk.
	s.log.Error("generation retries exhausted, substituting empty chunk",
		zap.Int32("x", pos[0]), zap.Int32("z", pos[1]))
	empty := NewChunk(pos)
	empty.Dirty = false
	return empty, protocol.ErrGenerationFailure
}

// ApplyResults installs finished load jobs. Called once per tick on the
// tick goroutine; never blocks. Returns the positions that became
// resident this tick.
func (s *ChunkStore) ApplyResults() []ChunkPos {
	var installed []ChunkPos
	for {
		select {
		case res := <-s.results:
			p, ok := s.pending[res.pos]
			if !ok {
				continue // already cancelled and forgotten
			}
			delete(s.pending, res.pos)
			p.cancel()
			if len(p.wanters) == 0 {
				continue // nobody wants it anymore, drop the result
			}
			if res.chunk == nil {
				s.log.Error("chunk load produced nothing", zap.Error(res.err))
				continue
			}
			lc := &LoadedChunk{Chunk: res.chunk, emptySince: time.Now()}
			s.chunks[res.pos] = lc
			installed = append(installed, res.pos)
		default:
			return installed
		}
	}
}

// Forget removes a client from every pending job it requested; jobs
// wanted by nobody else are cancelled. Shared in-flight requests for
// chunks still wanted by others continue.
func (s *ChunkStore) Forget(c Client) {
	for pos, p := range s.pending {
		if _, ok := p.wanters[c]; !ok {
			continue
		}
		delete(p.wanters, c)
		if len(p.wanters) == 0 {
			p.cancel()
			delete(s.pending, pos)
		}
	}
}

// ApplyBlockUpdate mutates one voxel. It rejects coordinates outside
// world height bounds and targets whose chunk is not resident. On
// success the previous block id is returned for drop/refund logic owned
// by the gameplay layer.
func (s *ChunkStore) ApplyBlockUpdate(x, y, z int32, id uint16, meta byte) (prev uint16, err error) {
	if y < 0 || y >= protocol.ChunkSizeY || id > protocol.MaxBlockID {
		return 0, protocol.ErrOutOfBounds
	}
	pos := ChunkPos{x >> 4, z >> 4}
	lc, ok := s.chunks[pos]
	if !ok {
		return 0, protocol.ErrNotFound
	}
	return lc.SetBlock(x&15, y, z&15, id, meta), nil
}

// Evict removes a chunk from memory. Only chunks with zero subscribers
// may be evicted; dirty chunks are handed to persistence first and are
// never silently dropped.
func (s *ChunkStore) Evict(pos ChunkPos) bool {
	lc, ok := s.chunks[pos]
	if !ok || len(lc.subscribers) > 0 {
		return false
	}
	if lc.Dirty {
		s.saveAsync(lc.Chunk) // ownership passes to the worker
	}
	delete(s.chunks, pos)
	return true
}

// EvictExpired evicts every chunk whose subscriber set has been empty
// for longer than the grace period.
func (s *ChunkStore) EvictExpired(now time.Time) int {
	var expired []ChunkPos
	for pos, lc := range s.chunks {
		if len(lc.subscribers) == 0 && now.Sub(lc.emptySince) > s.evictionGrace {
			expired = append(expired, pos)
		}
	}
	for _, pos := range expired {
		s.Evict(pos)
	}
	return len(expired)
}

// FlushDirty hands a snapshot of every dirty chunk to persistence and
// clears the flags. Runs on the save interval and at shutdown.
func (s *ChunkStore) FlushDirty() int {
	n := 0
	for _, lc := range s.chunks {
		if !lc.Dirty {
			continue
		}
		s.saveAsync(lc.Snapshot())
		lc.Dirty = false
		n++
	}
	return n
}

func (s *ChunkStore) saveAsync(c *Chunk) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.swg.Add()
		defer s.swg.Done()
		if err := s.provider.SaveChunk(context.Background(), s.worldID, c); err != nil {
			s.log.Error("save chunk fail",
				zap.Int32("x", c.Pos[0]), zap.Int32("z", c.Pos[1]), zap.Error(err))
		}
	}()
}

// Close cancels outstanding jobs and waits for workers to drain.
func (s *ChunkStore) Close() {
	for pos, p := range s.pending {
		p.cancel()
		delete(s.pending, pos)
	}
	s.FlushDirty()
	s.jobs.Wait()
}
