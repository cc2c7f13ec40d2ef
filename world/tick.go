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
	"time"

	"go.uber.org/zap"

	"StrixCore/protocol"
)

// Survival cadence, in ticks.
const (
	hungerDecayTicks = 600
	starveTicks      = 80
	evictCheckTicks  = 20
)

// Run drives the tick loop until Stop is called. Commands, chunk
// streaming, entity sync and survival mechanics all execute here, so no
// other goroutine ever touches world state.
func (w *World) Run() {
	ticker := time.NewTicker(w.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			w.shutdown()
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// Stop halts the tick loop and blocks until dirty chunks are flushed.
func (w *World) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *World) shutdown() {
	w.drainInbox()
	if n := w.store.FlushDirty(); n > 0 {
		w.log.Info("flushed chunks on shutdown", zap.Int("chunks", n))
	}
	w.store.Close()
	close(w.done)
}

func (w *World) tick() {
	w.tickCount++
	w.drainInbox()
	w.store.ApplyResults()
	w.subtickChunkLoad()
	w.subtickEntities()
	w.subtickSurvival()

	if w.tickCount%evictCheckTicks == 0 {
		w.store.EvictExpired(time.Now())
	}
	if saveTicks := uint64(w.config.SaveInterval / w.config.TickInterval); saveTicks > 0 && w.tickCount%saveTicks == 0 {
		if n := w.store.FlushDirty(); n > 0 {
			w.log.Debug("flushed dirty chunks", zap.Int("chunks", n))
		}
	}
	w.playerCount.Store(int32(len(w.sessions)))
	w.chunkCount.Store(int32(w.store.Len()))
}

// drainInbox runs queued commands in arrival order. Order within the
// drain is the conflict-resolution order for simultaneous edits.
func (w *World) drainInbox() {
	for {
		select {
		case cmd := <-w.inbox:
			cmd(w)
		default:
			return
		}
	}
}

// subtickChunkLoad advances every session's interest set: visible
// columns that left the radius are unsubscribed and unloaded, missing
// columns are scheduled, and resident ones are delivered strictly
// nearest-first. A pending column blocks delivery of farther columns
// (but not their scheduling) so the client always receives chunks in
// distance order.
func (w *World) subtickChunkLoad() {
	for c, s := range w.sessions {
		s.loader.calcUnloadQueue()
		for _, pos := range s.loader.unloadQueue {
			lc := w.store.Get(pos)
			if lc == nil || !lc.Unsubscribe(c) {
				w.log.Panic("session missing from subscriber set",
					zap.Int32("x", pos[0]), zap.Int32("z", pos[1]))
			}
			delete(s.loader.visible, pos)
			c.ViewChunkUnload(pos)
		}

		s.loader.calcLoadQueue()
		blocked := false
		for _, pos := range s.loader.loadQueue {
			lc, resident := w.store.GetOrSchedule(pos, c)
			if !resident {
				blocked = true
				continue
			}
			if blocked || !s.loader.limiter.Allow() {
				blocked = true
				continue
			}
			lc.Subscribe(c)
			s.loader.visible[pos] = struct{}{}
			c.ViewChunkData(lc.Chunk)
		}
	}
}

// syncEntity is one tick's view of an entity; p is set for players.
type syncEntity struct {
	e *Entity
	p *Player
}

// subtickEntities reconciles each session's known set with its visible
// columns and broadcasts state deltas. Spawns carry full state, so a
// session that scrolls a chunk back in resynchronizes without any
// retransmit bookkeeping; despawns are delivered before any new spawn
// could reuse interest in the column.
func (w *World) subtickEntities() {
	index := make(map[int32]syncEntity, len(w.sessions)+len(w.entities))
	for _, s := range w.sessions {
		index[s.player.ID] = syncEntity{e: &s.player.Entity, p: s.player}
	}
	for id, e := range w.entities {
		index[id] = syncEntity{e: e}
	}

	for c, s := range w.sessions {
		for id := range s.known {
			// The session's own avatar is implicitly always in
			// interest, even mid-teleport before its column loads.
			if id == s.player.ID {
				continue
			}
			se, ok := index[id]
			if ok {
				if _, vis := s.loader.visible[se.e.ChunkPos()]; vis {
					continue
				}
			}
			c.ViewEntityDespawn(id)
			delete(s.known, id)
		}
	}

	batches := make(map[Client]*protocol.EntityBatch)
	for _, se := range index {
		lc := w.store.Get(se.e.ChunkPos())
		if lc == nil || len(lc.Subscribers()) == 0 {
			continue
		}
		var flags byte
		if se.p != nil {
			flags = se.p.diffFlags()
		} else {
			flags = se.e.diffFlags()
		}
		sent := false
		for _, c := range lc.Subscribers() {
			s, ok := w.sessions[c]
			if !ok {
				continue
			}
			if _, knows := s.known[se.e.ID]; !knows {
				var name string
				if se.p != nil {
					name = se.p.Username
				}
				c.ViewEntitySpawn(se.e, name)
				s.known[se.e.ID] = se.e.Tick
				continue
			}
			if flags == 0 {
				continue
			}
			b := batches[c]
			if b == nil {
				b = &protocol.EntityBatch{}
				batches[c] = b
			}
			b.Deltas = append(b.Deltas, se.delta(flags))
			s.known[se.e.ID] = se.e.Tick
			sent = true
		}
		if sent {
			if se.p != nil {
				se.p.commitBroadcast()
			} else {
				se.e.commitBroadcast()
			}
		}
	}
	for c, b := range batches {
		c.ViewEntityUpdate(b)
	}
}

func (se syncEntity) delta(flags byte) protocol.EntityDelta {
	d := protocol.EntityDelta{
		EntityID: se.e.ID,
		Tick:     se.e.Tick,
		Flags:    flags,
		Position: se.e.Position,
		Rotation: se.e.Rotation,
		Velocity: se.e.Velocity,
		Health:   se.e.Health,
	}
	if se.p != nil {
		d.Hunger = se.p.Hunger
	}
	return d
}

// subtickSurvival applies hunger decay, starvation, regeneration and
// death for survival players. Creative players are exempt.
func (w *World) subtickSurvival() {
	for c, s := range w.sessions {
		p := s.player
		if p.GameMode != Survival {
			continue
		}
		changed := false
		if w.tickCount%hungerDecayTicks == 0 && p.Hunger > 0 {
			p.Hunger -= 0.5
			if p.Hunger < 0 {
				p.Hunger = 0
			}
			changed = true
		}
		if w.tickCount%starveTicks == 0 {
			switch {
			case p.Hunger <= 0 && p.Health > 0:
				p.Health--
				changed = true
			case p.Hunger >= 18 && p.Health > 0 && p.Health < MaxHealth:
				p.Health++
				changed = true
			}
		}
		if changed && p.Health <= 0 {
			w.respawn(c, s)
		}
		if changed {
			p.Touch(w.tickCount)
			c.Send(protocol.MsgHealthUpdate, &protocol.HealthUpdate{
				EntityID: p.ID,
				Health:   p.Health,
				Hunger:   p.Hunger,
			})
		}
	}
}

// respawn resets a dead player at the world spawn. The authoritative
// position reaches every subscriber through the normal entity sync.
func (w *World) respawn(c Client, s *session) {
	p := s.player
	p.Health = MaxHealth
	p.Hunger = MaxHunger
	p.Position = w.config.SpawnPosition
	p.Velocity = [3]float32{}
	p.Touch(w.tickCount)
	s.loader.SetCenter(p.ChunkPos())
	w.log.Info("player respawned", zap.String("name", p.Username))
	health := p.Health
	hunger := p.Hunger
	c.Send(protocol.MsgPlayerUpdate, &protocol.PlayerUpdate{
		PlayerID: p.UUID.String(),
		Position: p.Position,
		Rotation: p.Rotation,
		Health:   &health,
		Hunger:   &hunger,
	})
}
