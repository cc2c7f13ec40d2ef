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
	"encoding/json"
	"fmt"
)

// Control message bodies. These are the self-describing key-value class
// of payloads; bulk spatial data lives in chunk.go and entity.go.

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Success bool        `json:"success"`
	Token   string      `json:"token,omitempty"`
	Player  *PlayerInfo `json:"player,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PlayerInfo is the client-facing view of a player.
type PlayerInfo struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Position     [3]float64      `json:"position"`
	Rotation     [2]float32      `json:"rotation"`
	Health       float32         `json:"health"`
	Hunger       float32         `json:"hunger"`
	Experience   int32           `json:"experience"`
	Level        int32           `json:"level"`
	GameMode     string          `json:"gameMode"`
	Inventory    []InventorySlot `json:"inventory"`
	SelectedSlot int             `json:"selectedSlot"`
}

type InventorySlot struct {
	Slot  int    `json:"slot"`
	Item  uint16 `json:"item"`
	Count int    `json:"count"`
}

type WorldListRequest struct{}

type WorldListResponse struct {
	Worlds []WorldInfo `json:"worlds"`
}

type WorldInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Seed        int64         `json:"seed"`
	GameMode    string        `json:"gameMode"`
	PlayerCount int           `json:"playerCount"`
	MaxPlayers  int           `json:"maxPlayers"`
	CreatedAt   int64         `json:"createdAt"`
	LastActive  int64         `json:"lastActive"`
	Settings    WorldSettings `json:"settings"`
}

type WorldSettings struct {
	AllowPVP      bool   `json:"allowPvp"`
	KeepInventory bool   `json:"keepInventory"`
	Difficulty    string `json:"difficulty"`
}

type WorldCreateRequest struct {
	Name     string        `json:"name"`
	Seed     int64         `json:"seed"`
	GameMode string        `json:"gameMode"`
	Settings WorldSettings `json:"settings"`
}

type WorldCreateResponse struct {
	Success bool       `json:"success"`
	World   *WorldInfo `json:"world,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type WorldJoinRequest struct {
	WorldID string `json:"worldId"`
}

type WorldJoinResponse struct {
	Success bool        `json:"success"`
	World   *WorldInfo  `json:"world,omitempty"`
	Player  *PlayerInfo `json:"player,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WorldLeaveRequest struct{}

type WorldDeleteRequest struct {
	WorldID string `json:"worldId"`
}

type ChunkRequest struct {
	X int32 `json:"x"`
	Z int32 `json:"z"`
}

type BlockUpdate struct {
	X        int32  `json:"x"`
	Y        int32  `json:"y"`
	Z        int32  `json:"z"`
	BlockID  uint16 `json:"blockId"`
	Metadata byte   `json:"metadata,omitempty"`
}

type PlayerJoin struct {
	Player   PlayerInfo `json:"player"`
	EntityID int32      `json:"entityId"`
}

type PlayerLeave struct {
	PlayerID string `json:"playerId"`
}

// PlayerUpdate carries movement from the client and player state from
// the server. Health and hunger are only ever set server-to-client.
type PlayerUpdate struct {
	PlayerID string     `json:"playerId,omitempty"`
	Position [3]float64 `json:"position"`
	Rotation [2]float32 `json:"rotation"`
	Health   *float32   `json:"health,omitempty"`
	Hunger   *float32   `json:"hunger,omitempty"`
}

type EntitySpawn struct {
	EntityID int32      `json:"entityId"`
	Kind     string     `json:"kind"`
	Name     string     `json:"name,omitempty"`
	Position [3]float64 `json:"position"`
	Rotation [2]float32 `json:"rotation"`
	Health   float32    `json:"health"`
}

type EntityDespawn struct {
	EntityID int32 `json:"entityId"`
}

type CraftingRequest struct {
	RecipeID string    `json:"recipeId,omitempty"`
	Grid     [9]uint16 `json:"grid"`
	Counts   [9]int    `json:"counts"`
}

type CraftingResponse struct {
	Success bool   `json:"success"`
	Item    uint16 `json:"item,omitempty"`
	Count   int    `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
}

type InventoryAction struct {
	Action string `json:"action"` // move, swap, drop, select
	From   int    `json:"from"`
	To     int    `json:"to,omitempty"`
	Count  int    `json:"count,omitempty"`
}

type HealthUpdate struct {
	EntityID int32   `json:"entityId"`
	Health   float32 `json:"health"`
	Hunger   float32 `json:"hunger"`
}

type ExperienceUpdate struct {
	PlayerID   string `json:"playerId"`
	Experience int32  `json:"experience"`
	Level      int32  `json:"level"`
}

type ChatMessage struct {
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"` // chat, system, whisper
	Target      string `json:"target,omitempty"`
}

type CommandRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type CommandResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

type ErrorMessage struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

type ServerStats struct {
	UptimeSeconds int64  `json:"uptimeSeconds"`
	PlayerCount   int    `json:"playerCount"`
	WorldCount    int    `json:"worldCount"`
	ChunkCount    int    `json:"chunkCount"`
	Goroutines    int    `json:"goroutines"`
	HeapBytes     uint64 `json:"heapBytes"`
}

// bodyFor returns a fresh body value for a message type, or nil for the
// two binary-payload types which decode themselves.
func bodyFor(t MsgType) any {
	switch t {
	case MsgAuthRequest:
		return &AuthRequest{}
	case MsgAuthResponse:
		return &AuthResponse{}
	case MsgWorldListRequest:
		return &WorldListRequest{}
	case MsgWorldListResponse:
		return &WorldListResponse{}
	case MsgWorldCreateRequest:
		return &WorldCreateRequest{}
	case MsgWorldCreateResponse:
		return &WorldCreateResponse{}
	case MsgWorldJoinRequest:
		return &WorldJoinRequest{}
	case MsgWorldJoinResponse:
		return &WorldJoinResponse{}
	case MsgWorldLeaveRequest:
		return &WorldLeaveRequest{}
	case MsgWorldDeleteRequest:
		return &WorldDeleteRequest{}
	case MsgChunkRequest:
		return &ChunkRequest{}
	case MsgBlockUpdate:
		return &BlockUpdate{}
	case MsgPlayerJoin:
		return &PlayerJoin{}
	case MsgPlayerLeave:
		return &PlayerLeave{}
	case MsgPlayerUpdate:
		return &PlayerUpdate{}
	case MsgEntitySpawn:
		return &EntitySpawn{}
	case MsgEntityDespawn:
		return &EntityDespawn{}
	case MsgCraftingRequest:
		return &CraftingRequest{}
	case MsgCraftingResponse:
		return &CraftingResponse{}
	case MsgInventoryAction:
		return &InventoryAction{}
	case MsgHealthUpdate:
		return &HealthUpdate{}
	case MsgExperienceUpdate:
		return &ExperienceUpdate{}
	case MsgChatMessage:
		return &ChatMessage{}
	case MsgCommandRequest:
		return &CommandRequest{}
	case MsgCommandResponse:
		return &CommandResponse{}
	case MsgPing:
		return &Ping{}
	case MsgPong:
		return &Pong{}
	case MsgError:
		return &ErrorMessage{}
	case MsgServerStats:
		return &ServerStats{}
	}
	return nil
}

// MarshalBody serializes a message body for the given type tag.
func MarshalBody(t MsgType, body any) ([]byte, error) {
	switch t {
	case MsgChunkData:
		cd, ok := body.(*ChunkData)
		if !ok {
			return nil, fmt.Errorf("chunk_data body must be *ChunkData, got %T", body)
		}
		return cd.MarshalBinary()
	case MsgEntityUpdate:
		eb, ok := body.(*EntityBatch)
		if !ok {
			return nil, fmt.Errorf("entity_update body must be *EntityBatch, got %T", body)
		}
		return eb.MarshalBinary(), nil
	default:
		return json.Marshal(body)
	}
}

// UnmarshalBody decodes an envelope payload into its typed body.
// The type tag fully determines the shape; anything that does not fit
// fails with ErrMalformedPayload.
func UnmarshalBody(env Envelope) (any, error) {
	switch env.Type {
	case MsgChunkData:
		cd := &ChunkData{}
		if err := cd.UnmarshalBinary(env.Payload); err != nil {
			return nil, err
		}
		return cd, nil
	case MsgEntityUpdate:
		eb := &EntityBatch{}
		if err := eb.UnmarshalBinary(env.Payload); err != nil {
			return nil, err
		}
		return eb, nil
	}
	body := bodyFor(env.Type)
	if body == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, int32(env.Type))
	}
	if err := json.Unmarshal(env.Payload, body); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	return body, nil
}
