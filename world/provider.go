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

	"github.com/google/uuid"
)

// External collaborator boundaries. The core never persists or
// generates anything itself; it hands raw chunks and players across
// these interfaces and treats their contents as opaque.

// ErrChunkNotExist is returned by a ChunkProvider when the requested
// column was never saved.
var ErrChunkNotExist = errors.New("chunk does not exist")

// ErrPlayerNotExist is returned by a PlayerProvider for unknown players.
var ErrPlayerNotExist = errors.New("player does not exist")

// ChunkProvider is the persistence boundary for chunk columns.
// Implementations are called from worker goroutines and must be safe
// for concurrent use.
type ChunkProvider interface {
	LoadChunk(ctx context.Context, worldID uuid.UUID, pos ChunkPos) (*Chunk, error)
	SaveChunk(ctx context.Context, worldID uuid.UUID, c *Chunk) error
}

// PlayerProvider is the persistence boundary for player state.
type PlayerProvider interface {
	LoadPlayer(ctx context.Context, id uuid.UUID) (*Player, error)
	SavePlayer(ctx context.Context, p *Player) error
}

// Generator is the procedural generation boundary:
// generate(x, z) -> raw chunk. Implementations must be deterministic
// for a given seed and safe for concurrent use.
type Generator interface {
	GenerateChunk(ctx context.Context, seed int64, pos ChunkPos) (*Chunk, error)
}
