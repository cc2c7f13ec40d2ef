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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"StrixCore/protocol"
)

// Config carries the per-world tuning knobs.
type Config struct {
	ViewRadius    int32
	SpawnPosition [3]float64
	TickInterval  time.Duration
	SaveInterval  time.Duration
	EvictionGrace time.Duration
	GenWorkers    int

	// ChunkLimiter caps new load/generation jobs across the world.
	ChunkLimiter *rate.Limiter
}

// World is the authoritative state of one voxel world. Every mutation
// of chunks, entities and world membership happens on its single tick
// goroutine; other goroutines reach it only through Do.
type World struct {
	log    *zap.Logger
	id     uuid.UUID
	seed   int64
	config Config

	store    *ChunkStore
	sessions map[Client]*session
	entities map[int32]*Entity // non-player entities

	inbox chan func(*World)
	stop  chan struct{}
	done  chan struct{}

	tickCount uint64

	// Read by other goroutines for stats.
	playerCount atomic.Int32
	chunkCount  atomic.Int32
}

// session is the per-client state the world owns: the joined player,
// the chunk interest tracker, and the last-broadcast authority tick per
// entity this session has been told about.
type session struct {
	player *Player
	loader *loader
	known  map[int32]uint64
}

func New(logger *zap.Logger, id uuid.UUID, seed int64, provider ChunkProvider, generator Generator, config Config) *World {
	if config.TickInterval <= 0 {
		config.TickInterval = 50 * time.Millisecond
	}
	if config.ChunkLimiter == nil {
		config.ChunkLimiter = rate.NewLimiter(rate.Inf, 0)
	}
	w := &World{
		log:      logger,
		id:       id,
		seed:     seed,
		config:   config,
		store:    NewChunkStore(logger.Named("store"), id, seed, provider, generator, config.GenWorkers, config.ChunkLimiter, config.EvictionGrace),
		sessions: make(map[Client]*session),
		entities: make(map[int32]*Entity),
		inbox:    make(chan func(*World), 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	return w
}

// ID returns the world's identifier.
func (w *World) ID() uuid.UUID { return w.id }

// Tick returns the current tick number; meaningful on the tick
// goroutine only.
func (w *World) Tick() uint64 { return w.tickCount }

// SpawnPosition returns the world spawn point.
func (w *World) SpawnPosition() [3]float64 { return w.config.SpawnPosition }

// Counts reports player and resident-chunk counts; safe from any
// goroutine.
func (w *World) Counts() (players, chunks int) {
	return int(w.playerCount.Load()), int(w.chunkCount.Load())
}

// Do queues a command for the tick goroutine. Commands run in arrival
// order during the next tick; the tick loop itself never blocks on a
// caller.
func (w *World) Do(cmd func(*World)) {
	select {
	case w.inbox <- cmd:
	case <-w.stop:
	}
}

// AddPlayer attaches a joined session: interest is computed around the
// player's position and the join is announced to every world member.
// Must run on the tick goroutine (via Do).
func (w *World) AddPlayer(c Client, p *Player, limiter *rate.Limiter) {
	if _, ok := w.sessions[c]; ok {
		return
	}
	p.Touch(w.tickCount)
	p.commitBroadcast() // the spawn carries full state
	w.sessions[c] = &session{
		player: p,
		loader: newLoader(p.ChunkPos(), w.config.ViewRadius, limiter),
		known:  make(map[int32]uint64),
	}
	w.log.Info("player joined",
		zap.String("name", p.Username),
		zap.Int32("eid", p.ID),
		zap.Int("players", len(w.sessions)))

	join := &protocol.PlayerJoin{Player: *p.Info(), EntityID: p.ID}
	for other := range w.sessions {
		other.Send(protocol.MsgPlayerJoin, join)
	}
}

// RemovePlayer detaches a session, with guaranteed cleanup: every
// subscription is released, pending loads wanted only by this session
// are cancelled, and the player entity is despawned for everyone who
// ever saw it. Must run on the tick goroutine.
func (w *World) RemovePlayer(c Client) *Player {
	s, ok := w.sessions[c]
	if !ok {
		return nil
	}
	for pos := range s.loader.visible {
		lc := w.store.Get(pos)
		if lc == nil || !lc.Unsubscribe(c) {
			w.log.Panic("session missing from subscriber set",
				zap.Int32("x", pos[0]), zap.Int32("z", pos[1]))
		}
	}
	w.store.Forget(c)
	delete(w.sessions, c)

	leave := &protocol.PlayerLeave{PlayerID: s.player.UUID.String()}
	for other, os := range w.sessions {
		if _, knows := os.known[s.player.ID]; knows {
			other.ViewEntityDespawn(s.player.ID)
			delete(os.known, s.player.ID)
		}
		other.Send(protocol.MsgPlayerLeave, leave)
	}
	w.log.Info("player left",
		zap.String("name", s.player.Username),
		zap.Int("players", len(w.sessions)))
	return s.player
}

// Empty reports whether no session is attached; meaningful on the tick
// goroutine.
func (w *World) Empty() bool { return len(w.sessions) == 0 }

// Player returns the player joined through c, or nil.
func (w *World) Player(c Client) *Player {
	if s, ok := w.sessions[c]; ok {
		return s.player
	}
	return nil
}

// SpawnEntity registers a non-player entity; it reaches clients through
// the next sync pass.
func (w *World) SpawnEntity(e *Entity) {
	e.Touch(w.tickCount)
	e.commitBroadcast()
	w.entities[e.ID] = e
}

// DespawnEntity removes an entity and delivers the guaranteed despawn
// to every session that ever received a spawn or update for it, even
// sessions it has scrolled away from.
func (w *World) DespawnEntity(id int32) {
	delete(w.entities, id)
	for c, s := range w.sessions {
		if _, knows := s.known[id]; knows {
			c.ViewEntityDespawn(id)
			delete(s.known, id)
		}
	}
}

// ApplyBlockUpdate validates and applies one block edit, then
// rebroadcasts the resulting authoritative state to every subscriber of
// the containing chunk, the originator included. Simultaneous edits of
// one voxel resolve by apply order within the tick: the later command
// wins and the earlier issuer simply receives the final state as its
// correction. Returns the previous block id for drop/refund logic.
func (w *World) ApplyBlockUpdate(upd *protocol.BlockUpdate) (prev uint16, err error) {
	prev, err = w.store.ApplyBlockUpdate(upd.X, upd.Y, upd.Z, upd.BlockID, upd.Metadata)
	if err != nil {
		return 0, err
	}
	lc := w.store.Get(ChunkPos{upd.X >> 4, upd.Z >> 4})
	for _, c := range lc.Subscribers() {
		c.Send(protocol.MsgBlockUpdate, upd)
	}
	return prev, nil
}

// MovePlayer applies a client movement report to the authoritative
// transform. Invalid coordinates disconnect the session rather than
// poisoning world state.
func (w *World) MovePlayer(c Client, pos [3]float64, rot [2]float32) {
	s, ok := w.sessions[c]
	if !ok {
		return
	}
	if !ValidPosition(pos) {
		w.log.Info("invalid player movement",
			zap.String("name", s.player.Username),
			zap.Float64("x", pos[0]), zap.Float64("y", pos[1]), zap.Float64("z", pos[2]))
		c.Disconnect(protocol.ErrMalformedPayload)
		return
	}
	s.player.Position = pos
	s.player.Rotation = rot
	s.player.Touch(w.tickCount)
	s.loader.SetCenter(s.player.ChunkPos())
}

// RequestChunk serves an explicit chunk_request. Requests inside the
// interest radius are satisfied by the normal streaming path; a request
// for an already-visible chunk is a no-op so retransmits never duplicate
// chunk_data.
func (w *World) RequestChunk(c Client, pos ChunkPos) error {
	s, ok := w.sessions[c]
	if !ok {
		return protocol.ErrInvalidState
	}
	d := chebyshev([2]int32{pos[0] - s.loader.center[0], pos[1] - s.loader.center[1]})
	if d > s.loader.radius {
		return protocol.ErrOutOfBounds
	}
	if _, visible := s.loader.visible[pos]; visible {
		return nil
	}
	w.store.GetOrSchedule(pos, c)
	return nil
}

// SetGameMode changes a player's game mode; outside of this explicit
// command the mode is immutable for the session.
func (w *World) SetGameMode(c Client, mode GameMode) {
	if s, ok := w.sessions[c]; ok {
		s.player.GameMode = mode
		s.player.Touch(w.tickCount)
	}
}
