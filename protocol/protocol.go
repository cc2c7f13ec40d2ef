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

// Package protocol implements the wire format: a small binary envelope
// shared by every message, JSON bodies for control messages and
// fixed-layout binary bodies for bulk spatial data.
package protocol

import (
	"bytes"
	"fmt"

	pk "github.com/Tnze/go-mc/net/packet"
)

// MsgType tags the payload shape of an Envelope. The set is closed:
// decoding validates the payload against the shape the tag promises.
type MsgType int32

const (
	MsgAuthRequest MsgType = iota + 1
	MsgAuthResponse
	MsgWorldListRequest
	MsgWorldListResponse
	MsgWorldCreateRequest
	MsgWorldCreateResponse
	MsgWorldJoinRequest
	MsgWorldJoinResponse
	MsgWorldLeaveRequest
	MsgWorldDeleteRequest
	MsgChunkRequest
	MsgChunkData
	MsgBlockUpdate
	MsgPlayerJoin
	MsgPlayerLeave
	MsgPlayerUpdate
	MsgEntitySpawn
	MsgEntityUpdate
	MsgEntityDespawn
	MsgCraftingRequest
	MsgCraftingResponse
	MsgInventoryAction
	MsgHealthUpdate
	MsgExperienceUpdate
	MsgChatMessage
	MsgCommandRequest
	MsgCommandResponse
	MsgPing
	MsgPong
	MsgError
	MsgServerStats

	msgTypeGuard
)

var msgTypeNames = map[MsgType]string{
	MsgAuthRequest:         "auth_request",
	MsgAuthResponse:        "auth_response",
	MsgWorldListRequest:    "world_list_request",
	MsgWorldListResponse:   "world_list_response",
	MsgWorldCreateRequest:  "world_create_request",
	MsgWorldCreateResponse: "world_create_response",
	MsgWorldJoinRequest:    "world_join_request",
	MsgWorldJoinResponse:   "world_join_response",
	MsgWorldLeaveRequest:   "world_leave_request",
	MsgWorldDeleteRequest:  "world_delete_request",
	MsgChunkRequest:        "chunk_request",
	MsgChunkData:           "chunk_data",
	MsgBlockUpdate:         "block_update",
	MsgPlayerJoin:          "player_join",
	MsgPlayerLeave:         "player_leave",
	MsgPlayerUpdate:        "player_update",
	MsgEntitySpawn:         "entity_spawn",
	MsgEntityUpdate:        "entity_update",
	MsgEntityDespawn:       "entity_despawn",
	MsgCraftingRequest:     "crafting_request",
	MsgCraftingResponse:    "crafting_response",
	MsgInventoryAction:     "inventory_action",
	MsgHealthUpdate:        "health_update",
	MsgExperienceUpdate:    "experience_update",
	MsgChatMessage:         "chat_message",
	MsgCommandRequest:      "command_request",
	MsgCommandResponse:     "command_response",
	MsgPing:                "ping",
	MsgPong:                "pong",
	MsgError:               "error",
	MsgServerStats:         "server_stats",
}

func (t MsgType) String() string {
	if s, ok := msgTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int32(t))
}

// Valid reports whether t is part of the closed message set.
func (t MsgType) Valid() bool {
	return t > 0 && t < msgTypeGuard
}

// Envelope is the common wrapper every wire message shares.
//
// ID is unique per sender and used only for idempotent de-duplication on
// retransmit. Timestamp is sender-local milliseconds, used for RTT
// estimation only; server tick sequence is the sole ordering authority.
type Envelope struct {
	Type      MsgType
	ID        int64
	Timestamp int64
	Payload   []byte
}

// Encode serializes the envelope as
// [VarInt type][VarLong id][Long unixMilli][payload...].
func Encode(env Envelope) []byte {
	var buf bytes.Buffer
	_, _ = pk.VarInt(env.Type).WriteTo(&buf)
	_, _ = pk.VarLong(env.ID).WriteTo(&buf)
	_, _ = pk.Long(env.Timestamp).WriteTo(&buf)
	buf.Write(env.Payload)
	return buf.Bytes()
}

// Decode parses the envelope header and captures the remaining bytes as
// the raw payload. The payload itself is decoded later, per type.
func Decode(data []byte) (Envelope, error) {
	r := bytes.NewReader(data)
	var (
		typ pk.VarInt
		id  pk.VarLong
		ts  pk.Long
	)
	if _, err := typ.ReadFrom(r); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope type: %v", ErrMalformedPayload, err)
	}
	if _, err := id.ReadFrom(r); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope id: %v", ErrMalformedPayload, err)
	}
	if _, err := ts.ReadFrom(r); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope timestamp: %v", ErrMalformedPayload, err)
	}
	env := Envelope{
		Type:      MsgType(typ),
		ID:        int64(id),
		Timestamp: int64(ts),
		Payload:   data[len(data)-r.Len():],
	}
	if !env.Type.Valid() {
		return env, fmt.Errorf("%w: %d", ErrUnknownMessageType, int32(typ))
	}
	return env, nil
}
