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
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"StrixCore/protocol"
)

// recordClient captures every viewer callback for assertions.
type recordClient struct {
	chunks       []ChunkPos
	unloads      []ChunkPos
	spawns       []int32
	despawns     []int32
	batches      []*protocol.EntityBatch
	sent         []protocol.MsgType
	sentBodies   []any
	disconnected error
}

func (r *recordClient) ViewChunkData(c *Chunk)     { r.chunks = append(r.chunks, c.Pos) }
func (r *recordClient) ViewChunkUnload(p ChunkPos) { r.unloads = append(r.unloads, p) }
func (r *recordClient) ViewEntityDespawn(id int32) { r.despawns = append(r.despawns, id) }
func (r *recordClient) ViewEntitySpawn(e *Entity, _ string) {
	r.spawns = append(r.spawns, e.ID)
}
func (r *recordClient) ViewEntityUpdate(b *protocol.EntityBatch) {
	r.batches = append(r.batches, b)
}
func (r *recordClient) Send(t protocol.MsgType, body any) {
	r.sent = append(r.sent, t)
	r.sentBodies = append(r.sentBodies, body)
}
func (r *recordClient) Disconnect(reason error) { r.disconnected = reason }

// memProvider is an in-memory ChunkProvider spy.
type memProvider struct {
	mu     sync.Mutex
	chunks map[ChunkPos]*Chunk
	saves  int
}

func newMemProvider() *memProvider {
	return &memProvider{chunks: make(map[ChunkPos]*Chunk)}
}

func (m *memProvider) LoadChunk(_ context.Context, _ uuid.UUID, pos ChunkPos) (*Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chunks[pos]; ok {
		return c, nil
	}
	return nil, ErrChunkNotExist
}

func (m *memProvider) SaveChunk(_ context.Context, _ uuid.UUID, c *Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[c.Pos] = c
	m.saves++
	return nil
}

func (m *memProvider) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// flatGen generates stone-floored chunks immediately.
type flatGen struct{}

func (flatGen) GenerateChunk(_ context.Context, _ int64, pos ChunkPos) (*Chunk, error) {
	c := NewChunk(pos)
	for z := int32(0); z < ChunkSizeX; z++ {
		for x := int32(0); x < ChunkSizeX; x++ {
			c.SetBlock(x, 0, z, BlockStone, 0)
		}
	}
	c.Dirty = false
	return c, nil
}

func newTestWorld(t *testing.T) (*World, *memProvider) {
	t.Helper()
	prov := newMemProvider()
	w := New(zaptest.NewLogger(t), uuid.New(), 1, prov, flatGen{}, Config{
		ViewRadius:    1,
		SpawnPosition: [3]float64{8, 64, 8},
		TickInterval:  50 * time.Millisecond,
		SaveInterval:  time.Minute,
		EvictionGrace: time.Minute,
		GenWorkers:    2,
	})
	return w, prov
}

func joinPlayer(w *World, c Client, name string, pos [3]float64) *Player {
	p := NewPlayer(uuid.New(), name, Survival, pos)
	w.AddPlayer(c, p, rate.NewLimiter(rate.Inf, 0))
	return p
}

// tickUntil drives the world loop by hand until cond holds or the
// attempt budget runs out. The sleep gives async chunk workers room.
func tickUntil(t *testing.T, w *World, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		w.tick()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached after 200 ticks")
}

func TestJoinStreamsInterestSet(t *testing.T) {
	w, _ := newTestWorld(t)
	c := &recordClient{}
	joinPlayer(w, c, "alice", [3]float64{8, 64, 8})

	tickUntil(t, w, func() bool { return len(c.chunks) >= 9 })

	if len(c.chunks) != 9 {
		t.Fatalf("got %d chunks, want 9", len(c.chunks))
	}
	if c.chunks[0] != (ChunkPos{0, 0}) {
		t.Errorf("first chunk %v, want the player column", c.chunks[0])
	}
	seen := make(map[ChunkPos]bool)
	for _, pos := range c.chunks {
		if seen[pos] {
			t.Errorf("chunk %v delivered twice", pos)
		}
		seen[pos] = true
		if max64(abs(pos[0]), abs(pos[1])) > 1 {
			t.Errorf("chunk %v outside radius 1", pos)
		}
	}
}

func max64(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func TestMovementShiftsInterest(t *testing.T) {
	w, _ := newTestWorld(t)
	c := &recordClient{}
	joinPlayer(w, c, "alice", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(c.chunks) >= 9 })

	// One column east: three columns leave, three enter.
	w.Do(func(w *World) { w.MovePlayer(c, [3]float64{24, 64, 8}, [2]float32{}) })
	tickUntil(t, w, func() bool { return len(c.chunks) >= 12 && len(c.unloads) >= 3 })

	for _, pos := range c.unloads {
		if pos[0] != -1 {
			t.Errorf("unloaded %v, want only the x=-1 columns", pos)
		}
	}
	total := make(map[ChunkPos]int)
	for _, pos := range c.chunks {
		total[pos]++
	}
	for pos, n := range total {
		if n != 1 {
			t.Errorf("chunk %v delivered %d times", pos, n)
		}
	}
}

func TestBlockConflictLastCommandWins(t *testing.T) {
	w, _ := newTestWorld(t)
	a, b := &recordClient{}, &recordClient{}
	joinPlayer(w, a, "alice", [3]float64{8, 64, 8})
	joinPlayer(w, b, "bob", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(a.chunks) >= 9 && len(b.chunks) >= 9 })
	a.sent, a.sentBodies = nil, nil
	b.sent, b.sentBodies = nil, nil

	// Same voxel, same tick: apply order decides.
	w.Do(func(w *World) {
		_, _ = w.ApplyBlockUpdate(&protocol.BlockUpdate{X: 3, Y: 10, Z: 3, BlockID: BlockDirt})
	})
	w.Do(func(w *World) {
		_, _ = w.ApplyBlockUpdate(&protocol.BlockUpdate{X: 3, Y: 10, Z: 3, BlockID: BlockStone})
	})
	w.tick()

	lc := w.store.Get(ChunkPos{0, 0})
	if id := lc.Block(3, 10, 3); id != BlockStone {
		t.Fatalf("voxel holds %d, want the later edit %d", id, BlockStone)
	}
	for _, rc := range []*recordClient{a, b} {
		var updates []*protocol.BlockUpdate
		for i, typ := range rc.sent {
			if typ == protocol.MsgBlockUpdate {
				updates = append(updates, rc.sentBodies[i].(*protocol.BlockUpdate))
			}
		}
		if len(updates) != 2 {
			t.Fatalf("got %d block_update broadcasts, want 2", len(updates))
		}
		if updates[1].BlockID != BlockStone {
			t.Errorf("final broadcast carries %d, want %d", updates[1].BlockID, BlockStone)
		}
	}
}

func TestBlockUpdateOutOfBounds(t *testing.T) {
	w, _ := newTestWorld(t)
	c := &recordClient{}
	joinPlayer(w, c, "alice", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(c.chunks) >= 9 })

	if _, err := w.ApplyBlockUpdate(&protocol.BlockUpdate{X: 0, Y: 256, Z: 0, BlockID: 1}); !errors.Is(err, protocol.ErrOutOfBounds) {
		t.Errorf("y=256: got %v, want ErrOutOfBounds", err)
	}
	if _, err := w.ApplyBlockUpdate(&protocol.BlockUpdate{X: 500, Y: 10, Z: 0, BlockID: 1}); !errors.Is(err, protocol.ErrNotFound) {
		t.Errorf("unloaded chunk: got %v, want ErrNotFound", err)
	}
}

func TestEntitySyncSpawnAndDelta(t *testing.T) {
	w, _ := newTestWorld(t)
	a, b := &recordClient{}, &recordClient{}
	pa := joinPlayer(w, a, "alice", [3]float64{8, 64, 8})
	joinPlayer(w, b, "bob", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(a.spawns) >= 2 && len(b.spawns) >= 2 })

	b.batches = nil
	w.Do(func(w *World) { w.MovePlayer(a, [3]float64{9, 64, 8}, [2]float32{}) })
	tickUntil(t, w, func() bool { return len(b.batches) > 0 })

	var found *protocol.EntityDelta
	for _, batch := range b.batches {
		for i := range batch.Deltas {
			if batch.Deltas[i].EntityID == pa.ID {
				found = &batch.Deltas[i]
			}
		}
	}
	if found == nil {
		t.Fatal("bob never received alice's movement delta")
	}
	if found.Flags&protocol.DeltaPosition == 0 || found.Position[0] != 9 {
		t.Errorf("delta %+v, want position flag with x=9", found)
	}
}

func TestEntityDeltaSuppressedBelowEpsilon(t *testing.T) {
	w, _ := newTestWorld(t)
	a, b := &recordClient{}, &recordClient{}
	joinPlayer(w, a, "alice", [3]float64{8, 64, 8})
	joinPlayer(w, b, "bob", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(a.spawns) >= 2 && len(b.spawns) >= 2 })
	w.tick() // settle any pending deltas
	b.batches = nil

	w.Do(func(w *World) { w.MovePlayer(a, [3]float64{8.001, 64, 8}, [2]float32{}) })
	for i := 0; i < 5; i++ {
		w.tick()
	}
	if len(b.batches) != 0 {
		t.Errorf("sub-epsilon move broadcast %d batches, want 0", len(b.batches))
	}
}

func TestScrollOutDespawnsEntities(t *testing.T) {
	w, _ := newTestWorld(t)
	a, b := &recordClient{}, &recordClient{}
	pa := joinPlayer(w, a, "alice", [3]float64{8, 64, 8})
	pb := joinPlayer(w, b, "bob", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(a.spawns) >= 2 && len(b.spawns) >= 2 })

	// Alice teleports well outside bob's radius.
	w.Do(func(w *World) { w.MovePlayer(a, [3]float64{160, 64, 160}, [2]float32{}) })
	tickUntil(t, w, func() bool { return len(b.despawns) > 0 && len(a.despawns) > 0 })

	if b.despawns[0] != pa.ID {
		t.Errorf("bob saw despawn of %d, want alice %d", b.despawns[0], pa.ID)
	}
	if a.despawns[0] != pb.ID {
		t.Errorf("alice saw despawn of %d, want bob %d", a.despawns[0], pb.ID)
	}
}

func TestRemovePlayerCleansUp(t *testing.T) {
	w, _ := newTestWorld(t)
	a, b := &recordClient{}, &recordClient{}
	pa := joinPlayer(w, a, "alice", [3]float64{8, 64, 8})
	joinPlayer(w, b, "bob", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(a.chunks) >= 9 && len(b.spawns) >= 2 })

	w.RemovePlayer(a)
	w.tick()

	for pos, lc := range w.store.chunks {
		for _, sub := range lc.Subscribers() {
			if sub == a {
				t.Errorf("chunk %v still lists the removed session", pos)
			}
		}
	}
	var sawDespawn, sawLeave bool
	for _, id := range b.despawns {
		if id == pa.ID {
			sawDespawn = true
		}
	}
	for _, typ := range b.sent {
		if typ == protocol.MsgPlayerLeave {
			sawLeave = true
		}
	}
	if !sawDespawn || !sawLeave {
		t.Errorf("despawn=%v leave=%v, want both delivered to bob", sawDespawn, sawLeave)
	}
	if w.Player(a) != nil {
		t.Error("removed session still resolves to a player")
	}
}

func TestDespawnReachesScrolledAwaySessions(t *testing.T) {
	w, _ := newTestWorld(t)
	a, b := &recordClient{}, &recordClient{}
	joinPlayer(w, a, "alice", [3]float64{8, 64, 8})
	joinPlayer(w, b, "bob", [3]float64{8, 64, 8})

	mob := &Entity{ID: NewEntityID(), Kind: KindMob, Position: [3]float64{8, 64, 8}, Health: 10}
	w.SpawnEntity(mob)
	tickUntil(t, w, func() bool {
		return contains(a.spawns, mob.ID) && contains(b.spawns, mob.ID)
	})

	w.DespawnEntity(mob.ID)
	if !contains(a.despawns, mob.ID) || !contains(b.despawns, mob.ID) {
		t.Error("despawn not delivered to every knowing session")
	}
}

func contains(ids []int32, id int32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestChunkRequestBounds(t *testing.T) {
	w, _ := newTestWorld(t)
	c := &recordClient{}
	joinPlayer(w, c, "alice", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(c.chunks) >= 9 })

	if err := w.RequestChunk(c, ChunkPos{5, 5}); !errors.Is(err, protocol.ErrOutOfBounds) {
		t.Errorf("outside radius: got %v, want ErrOutOfBounds", err)
	}
	before := len(c.chunks)
	if err := w.RequestChunk(c, ChunkPos{0, 0}); err != nil {
		t.Fatalf("visible column: %v", err)
	}
	w.tick()
	if len(c.chunks) != before {
		t.Error("retransmitted chunk_request duplicated a visible column")
	}
}

func TestInvalidMovementDisconnects(t *testing.T) {
	w, _ := newTestWorld(t)
	c := &recordClient{}
	joinPlayer(w, c, "alice", [3]float64{8, 64, 8})

	bad := [][3]float64{
		{0, math.NaN(), 0},
		{math.Inf(1), 64, 0},
		{1e20, 64, 0},   // finite but far outside the world
		{0, -1, 0},      // below the world floor
		{0, 1 << 20, 0}, // above the build limit
	}
	for _, pos := range bad {
		c.disconnected = nil
		w.MovePlayer(c, pos, [2]float32{})
		if !errors.Is(c.disconnected, protocol.ErrMalformedPayload) {
			t.Errorf("move to %v: disconnect reason %v, want ErrMalformedPayload", pos, c.disconnected)
		}
	}

	c.disconnected = nil
	w.MovePlayer(c, [3]float64{100, 64, -100}, [2]float32{})
	if c.disconnected != nil {
		t.Errorf("valid move disconnected: %v", c.disconnected)
	}
}

func TestDirtyChunksFlushOnStop(t *testing.T) {
	w, prov := newTestWorld(t)
	c := &recordClient{}
	joinPlayer(w, c, "alice", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(c.chunks) >= 9 })

	if _, err := w.ApplyBlockUpdate(&protocol.BlockUpdate{X: 1, Y: 5, Z: 1, BlockID: BlockDirt}); err != nil {
		t.Fatal(err)
	}
	w.shutdown()
	if prov.saveCount() == 0 {
		t.Error("dirty chunk not flushed on shutdown")
	}
	saved, err := prov.LoadChunk(context.Background(), w.ID(), ChunkPos{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if id := saved.Block(1, 5, 1); id != BlockDirt {
		t.Errorf("persisted voxel %d, want %d", id, BlockDirt)
	}
}

func TestAddExperienceLevels(t *testing.T) {
	p := NewPlayer(uuid.New(), "alice", Survival, [3]float64{0, 64, 0})
	if p.AddExperience(50) {
		t.Error("50 xp should not level up")
	}
	if !p.AddExperience(160) {
		t.Error("210 xp total should level up")
	}
	if p.Level != 3 || p.Experience != 10 {
		t.Errorf("level %d xp %d, want level 3 xp 10", p.Level, p.Experience)
	}
}

func TestTeleportKeepsOwnAvatar(t *testing.T) {
	w, _ := newTestWorld(t)
	c := &recordClient{}
	p := joinPlayer(w, c, "alice", [3]float64{8, 64, 8})
	tickUntil(t, w, func() bool { return len(c.chunks) >= 9 })

	// Teleport far away; the destination column is not resident yet.
	w.MovePlayer(c, [3]float64{1000, 64, 1000}, [2]float32{})
	w.tick()
	for _, id := range c.despawns {
		if id == p.ID {
			t.Fatal("session saw a despawn of its own player")
		}
	}

	dest := ChunkPosAt([3]float64{1000, 64, 1000})
	tickUntil(t, w, func() bool {
		_, ok := w.sessions[c].loader.visible[dest]
		return ok
	})
	for _, id := range c.despawns {
		if id == p.ID {
			t.Error("session saw a despawn of its own player after arrival")
		}
	}
	if _, knows := w.sessions[c].known[p.ID]; !knows {
		t.Error("session no longer tracks its own player")
	}
}
