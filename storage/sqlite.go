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

// Package storage persists accounts, worlds, players and chunks in a
// single SQLite database. It implements the world package's provider
// boundaries; chunk columns are stored in their compressed wire form so
// the codec is shared between transport and disk.
package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"StrixCore/protocol"
	"StrixCore/world"
)

// ErrBadCredentials is returned when a known username presents the
// wrong password.
var ErrBadCredentials = errors.New("bad credentials")

// ErrWorldExists is returned when creating a world whose name is taken.
var ErrWorldExists = errors.New("world name already exists")

// ErrWorldNotExist is returned when looking up an unknown world.
var ErrWorldNotExist = errors.New("world does not exist")

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	username   TEXT UNIQUE NOT NULL,
	salt       BLOB NOT NULL,
	pass_hash  BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS worlds (
	id          TEXT PRIMARY KEY,
	name        TEXT UNIQUE NOT NULL,
	seed        INTEGER NOT NULL,
	game_mode   TEXT NOT NULL,
	max_players INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	last_active INTEGER NOT NULL,
	settings    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	world_id   TEXT NOT NULL,
	x          INTEGER NOT NULL,
	z          INTEGER NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (world_id, x, z)
);
CREATE TABLE IF NOT EXISTS players (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store wraps the database handle. Safe for concurrent use; SQLite
// serializes writers internally.
type Store struct {
	log *zap.Logger
	db  *sql.DB
}

var (
	_ world.ChunkProvider  = (*Store)(nil)
	_ world.PlayerProvider = (*Store)(nil)
)

func Open(logger *zap.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{log: logger, db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Account is one registered user.
type Account struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
}

// Authenticate verifies a username/password pair. Unknown usernames are
// registered on first login; known ones must match.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	var (
		idStr    string
		salt     []byte
		passHash []byte
		created  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, salt, pass_hash, created_at FROM accounts WHERE username = ?`, username).
		Scan(&idStr, &salt, &passHash, &created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.register(ctx, username, password)
	case err != nil:
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if subtle.ConstantTimeCompare(hashPassword(salt, password), passHash) != 1 {
		return nil, ErrBadCredentials
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt account id: %w", err)
	}
	return &Account{ID: id, Username: username, CreatedAt: time.Unix(created, 0)}, nil
}

func (s *Store) register(ctx context.Context, username, password string) (*Account, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	acc := &Account{ID: uuid.New(), Username: username, CreatedAt: time.Now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, salt, pass_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		acc.ID.String(), username, salt, hashPassword(salt, password), acc.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}
	s.log.Info("registered new account", zap.String("username", username))
	return acc, nil
}

func hashPassword(salt []byte, password string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}

// WorldRecord is one persisted world entry.
type WorldRecord struct {
	ID         uuid.UUID
	Name       string
	Seed       int64
	GameMode   string
	MaxPlayers int
	CreatedAt  time.Time
	LastActive time.Time
	Settings   protocol.WorldSettings
}

func (s *Store) ListWorlds(ctx context.Context) ([]WorldRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, seed, game_mode, max_players, created_at, last_active, settings FROM worlds ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var out []WorldRecord
	for rows.Next() {
		var (
			rec                 WorldRecord
			idStr, settingsJSON string
			createdAt, lastUsed int64
		)
		if err := rows.Scan(&idStr, &rec.Name, &rec.Seed, &rec.GameMode, &rec.MaxPlayers, &createdAt, &lastUsed, &settingsJSON); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("corrupt world id: %w", err)
		}
		if err := json.Unmarshal([]byte(settingsJSON), &rec.Settings); err != nil {
			return nil, fmt.Errorf("corrupt world settings: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		rec.LastActive = time.Unix(lastUsed, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetWorld looks up one world by id.
func (s *Store) GetWorld(ctx context.Context, id uuid.UUID) (WorldRecord, error) {
	var (
		rec                 WorldRecord
		settingsJSON        string
		createdAt, lastUsed int64
	)
	rec.ID = id
	err := s.db.QueryRowContext(ctx,
		`SELECT name, seed, game_mode, max_players, created_at, last_active, settings FROM worlds WHERE id = ?`,
		id.String()).
		Scan(&rec.Name, &rec.Seed, &rec.GameMode, &rec.MaxPlayers, &createdAt, &lastUsed, &settingsJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return WorldRecord{}, ErrWorldNotExist
	case err != nil:
		return WorldRecord{}, fmt.Errorf("get world: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &rec.Settings); err != nil {
		return WorldRecord{}, fmt.Errorf("corrupt world settings: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.LastActive = time.Unix(lastUsed, 0)
	return rec, nil
}

func (s *Store) CreateWorld(ctx context.Context, rec WorldRecord) error {
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO worlds (id, name, seed, game_mode, max_players, created_at, last_active, settings) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Name, rec.Seed, rec.GameMode, rec.MaxPlayers,
		rec.CreatedAt.Unix(), rec.LastActive.Unix(), string(settings))
	if err != nil {
		// UNIQUE violation on the name.
		var exists bool
		if scanErr := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) > 0 FROM worlds WHERE name = ?`, rec.Name).Scan(&exists); scanErr == nil && exists {
			return ErrWorldExists
		}
		return fmt.Errorf("create world: %w", err)
	}
	return nil
}

// DeleteWorld removes a world and everything stored under it.
func (s *Store) DeleteWorld(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE world_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM worlds WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete world: %w", err)
	}
	return tx.Commit()
}

func (s *Store) TouchWorld(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE worlds SET last_active = ? WHERE id = ?`, at.Unix(), id.String())
	return err
}

// LoadChunk implements world.ChunkProvider. The stored blob is the
// chunk's wire form.
func (s *Store) LoadChunk(ctx context.Context, worldID uuid.UUID, pos world.ChunkPos) (*world.Chunk, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM chunks WHERE world_id = ? AND x = ? AND z = ?`,
		worldID.String(), pos[0], pos[1]).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, world.ErrChunkNotExist
	case err != nil:
		return nil, fmt.Errorf("load chunk: %w", err)
	}
	cd := &protocol.ChunkData{}
	if err := cd.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("decode chunk (%d, %d): %w", pos[0], pos[1], err)
	}
	return world.FromPayload(cd), nil
}

// SaveChunk implements world.ChunkProvider.
func (s *Store) SaveChunk(ctx context.Context, worldID uuid.UUID, c *world.Chunk) error {
	blob, err := c.Payload().MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chunks (world_id, x, z, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (world_id, x, z) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		worldID.String(), c.Pos[0], c.Pos[1], blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save chunk: %w", err)
	}
	return nil
}

// playerRecord is the JSON form a player is stored in.
type playerRecord struct {
	Position   [3]float64   `json:"position"`
	Rotation   [2]float32   `json:"rotation"`
	Health     float32      `json:"health"`
	Hunger     float32      `json:"hunger"`
	Experience int32        `json:"experience"`
	Level      int32        `json:"level"`
	GameMode   string       `json:"gameMode"`
	Inventory  []storedSlot `json:"inventory"`
	Selected   int          `json:"selected"`
}

type storedSlot struct {
	Slot  int    `json:"slot"`
	Item  uint16 `json:"item"`
	Count int    `json:"count"`
}

// LoadPlayer implements world.PlayerProvider.
func (s *Store) LoadPlayer(ctx context.Context, id uuid.UUID) (*world.Player, error) {
	var username, data string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, data FROM players WHERE id = ?`, id.String()).Scan(&username, &data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, world.ErrPlayerNotExist
	case err != nil:
		return nil, fmt.Errorf("load player: %w", err)
	}
	var rec playerRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("corrupt player record: %w", err)
	}
	p := world.NewPlayer(id, username, world.ParseGameMode(rec.GameMode), rec.Position)
	p.Rotation = rec.Rotation
	p.Health = rec.Health
	p.Hunger = rec.Hunger
	p.Experience = rec.Experience
	p.Level = rec.Level
	p.Selected = rec.Selected
	for _, sl := range rec.Inventory {
		if sl.Slot >= 0 && sl.Slot < world.InventorySize {
			p.Inventory[sl.Slot] = world.Slot{Item: sl.Item, Count: sl.Count}
		}
	}
	return p, nil
}

// SavePlayer implements world.PlayerProvider.
func (s *Store) SavePlayer(ctx context.Context, p *world.Player) error {
	rec := playerRecord{
		Position:   p.Position,
		Rotation:   p.Rotation,
		Health:     p.Health,
		Hunger:     p.Hunger,
		Experience: p.Experience,
		Level:      p.Level,
		GameMode:   p.GameMode.String(),
		Selected:   p.Selected,
	}
	for i, sl := range p.Inventory {
		if sl.Count > 0 {
			rec.Inventory = append(rec.Inventory, storedSlot{Slot: i, Item: sl.Item, Count: sl.Count})
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO players (id, username, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		p.UUID.String(), p.Username, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	return nil
}
