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

package game

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"StrixCore/client"
	"StrixCore/gen"
	"StrixCore/protocol"
	"StrixCore/storage"
	"StrixCore/world"
)

var (
	ErrWorldFull  = errors.New("world is full")
	ErrWorldInUse = errors.New("world has players online")
)

// runningWorld pairs a started world with its game-side membership.
type runningWorld struct {
	rec     storage.WorldRecord
	w       *world.World
	members map[*client.Session]struct{}
}

// registry tracks persisted worlds and which of them are live. A world
// starts its tick loop when the first player joins and stops, flushing
// to disk, when the last one leaves.
type registry struct {
	log    *zap.Logger
	store  *storage.Store
	config *Config

	// Guarded by the Game mutex: the registry is only touched from
	// session handler goroutines holding it.
	running   map[uuid.UUID]*runningWorld
	bySession map[*client.Session]*runningWorld
}

func newRegistry(logger *zap.Logger, store *storage.Store, config *Config) *registry {
	return &registry{
		log:       logger,
		store:     store,
		config:    config,
		running:   make(map[uuid.UUID]*runningWorld),
		bySession: make(map[*client.Session]*runningWorld),
	}
}

func (r *registry) list(ctx context.Context) ([]protocol.WorldInfo, error) {
	records, err := r.store.ListWorlds(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]protocol.WorldInfo, 0, len(records))
	for _, rec := range records {
		info := worldInfo(rec)
		if rw, ok := r.running[rec.ID]; ok {
			info.PlayerCount = len(rw.members)
			info.LastActive = time.Now().Unix()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func worldInfo(rec storage.WorldRecord) protocol.WorldInfo {
	return protocol.WorldInfo{
		ID:         rec.ID.String(),
		Name:       rec.Name,
		Seed:       rec.Seed,
		GameMode:   rec.GameMode,
		MaxPlayers: rec.MaxPlayers,
		CreatedAt:  rec.CreatedAt.Unix(),
		LastActive: rec.LastActive.Unix(),
		Settings:   rec.Settings,
	}
}

func (r *registry) create(ctx context.Context, req *protocol.WorldCreateRequest) (storage.WorldRecord, error) {
	if req.Name == "" {
		return storage.WorldRecord{}, errors.New("world name must not be empty")
	}
	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	now := time.Now()
	rec := storage.WorldRecord{
		ID:         uuid.New(),
		Name:       req.Name,
		Seed:       seed,
		GameMode:   world.ParseGameMode(req.GameMode).String(),
		MaxPlayers: r.config.MaxPlayersPerWorld,
		CreatedAt:  now,
		LastActive: now,
		Settings:   req.Settings,
	}
	if err := r.store.CreateWorld(ctx, rec); err != nil {
		return storage.WorldRecord{}, err
	}
	r.log.Info("world created", zap.String("name", rec.Name), zap.Int64("seed", rec.Seed))
	return rec, nil
}

// join attaches a session to a world, starting its tick loop if
// needed. The caller still has to run world.AddPlayer through w.Do.
func (r *registry) join(ctx context.Context, s *client.Session, id uuid.UUID) (*runningWorld, error) {
	if _, ok := r.bySession[s]; ok {
		return nil, errors.New("already in a world")
	}
	rw, ok := r.running[id]
	if !ok {
		rec, err := r.store.GetWorld(ctx, id)
		if err != nil {
			return nil, err
		}
		rw = &runningWorld{
			rec:     rec,
			w:       r.startWorld(rec),
			members: make(map[*client.Session]struct{}),
		}
		r.running[id] = rw
	}
	if rw.rec.MaxPlayers > 0 && len(rw.members) >= rw.rec.MaxPlayers {
		return nil, ErrWorldFull
	}
	rw.members[s] = struct{}{}
	r.bySession[s] = rw
	return rw, nil
}

func (r *registry) startWorld(rec storage.WorldRecord) *world.World {
	w := world.New(
		r.log.Named("world").With(zap.String("name", rec.Name)),
		rec.ID,
		rec.Seed,
		r.store,
		gen.Heightmap{},
		world.Config{
			ViewRadius:    r.config.ViewDistance,
			SpawnPosition: [3]float64{8, float64(world.ChunkSizeY)/2 + 8, 8},
			TickInterval:  r.config.TickInterval.Duration,
			SaveInterval:  r.config.SaveInterval.Duration,
			EvictionGrace: r.config.EvictionGrace.Duration,
			GenWorkers:    r.config.GenWorkers,
			ChunkLimiter:  r.config.ChunkLoadingLimiter.Limiter(),
		},
	)
	go w.Run()
	r.log.Info("world started", zap.String("name", rec.Name))
	return w
}

// leave detaches a session. The world-side removal and the player save
// happen on the tick goroutine; the empty world is stopped afterwards.
func (r *registry) leave(s *client.Session) {
	rw, ok := r.bySession[s]
	if !ok {
		return
	}
	delete(r.bySession, s)
	delete(rw.members, s)

	rw.w.Do(func(w *world.World) {
		if p := w.RemovePlayer(s); p != nil {
			go r.savePlayer(p)
		}
	})

	if len(rw.members) == 0 {
		delete(r.running, rw.rec.ID)
		go func(rw *runningWorld) {
			rw.w.Stop()
			if err := r.store.TouchWorld(context.Background(), rw.rec.ID, time.Now()); err != nil {
				r.log.Error("touch world fail", zap.Error(err))
			}
			r.log.Info("world stopped", zap.String("name", rw.rec.Name))
		}(rw)
	}
}

func (r *registry) savePlayer(p *world.Player) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.SavePlayer(ctx, p); err != nil {
		r.log.Error("save player fail", zap.String("name", p.Username), zap.Error(err))
	}
}

func (r *registry) delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.running[id]; ok {
		return ErrWorldInUse
	}
	return r.store.DeleteWorld(ctx, id)
}

// sessionWorld returns the running world a session is joined to.
func (r *registry) sessionWorld(s *client.Session) *runningWorld {
	return r.bySession[s]
}

// membersOf snapshots the sessions joined to the same world as s,
// including s itself.
func (r *registry) membersOf(s *client.Session) []*client.Session {
	rw, ok := r.bySession[s]
	if !ok {
		return nil
	}
	out := make([]*client.Session, 0, len(rw.members))
	for m := range rw.members {
		out = append(out, m)
	}
	return out
}

// stopAll brings every running world down, flushing state.
func (r *registry) stopAll() {
	for id, rw := range r.running {
		delete(r.running, id)
		rw.w.Stop()
	}
}

func (r *registry) counts() (players, chunks, worlds int) {
	for _, rw := range r.running {
		p, c := rw.w.Counts()
		players += p
		chunks += c
	}
	return players, chunks, len(r.running)
}
