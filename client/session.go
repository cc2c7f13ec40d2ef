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

// Package client owns the per-connection session: the WebSocket pumps,
// the inbound state machine and the outbound queue. A Session is the
// world's Client on one side and the player's socket on the other.
package client

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"StrixCore/protocol"
	"StrixCore/world"
)

// State is the session's position in the connection lifecycle. Only
// messages valid for the current state are dispatched; everything else
// is answered with an error and counted against the abuse limiter.
type State int32

const (
	Unauthenticated State = iota
	Authenticated
	WorldJoined
	Disconnected
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case WorldJoined:
		return "world_joined"
	case Disconnected:
		return "disconnected"
	}
	return "invalid"
}

// stateAllowed gates inbound message types per state. Ping and pong are
// legal in every live state.
var stateAllowed = map[State]map[protocol.MsgType]bool{
	Unauthenticated: {
		protocol.MsgAuthRequest: true,
	},
	Authenticated: {
		protocol.MsgWorldListRequest:   true,
		protocol.MsgWorldCreateRequest: true,
		protocol.MsgWorldJoinRequest:   true,
		protocol.MsgWorldDeleteRequest: true,
		protocol.MsgServerStats:        true,
	},
	WorldJoined: {
		protocol.MsgWorldLeaveRequest: true,
		protocol.MsgChunkRequest:      true,
		protocol.MsgBlockUpdate:       true,
		protocol.MsgPlayerUpdate:      true,
		protocol.MsgCraftingRequest:   true,
		protocol.MsgInventoryAction:   true,
		protocol.MsgChatMessage:       true,
		protocol.MsgCommandRequest:    true,
		protocol.MsgServerStats:       true,
	},
}

// Handler processes one inbound message on the session's read
// goroutine. A returned error is reported to the client; state errors
// feed the abuse limiter.
type Handler func(s *Session, env *protocol.Envelope, body any) error

// dedupWindow is how many recent inbound message ids are remembered for
// retransmit suppression.
const dedupWindow = 64

// Config carries the connection tuning knobs.
type Config struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int64

	// Protocol-error budget before the session is cut.
	ErrorRate  rate.Limit
	ErrorBurst int
}

func (c *Config) fill() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 1 << 20
	}
	if c.ErrorRate <= 0 {
		c.ErrorRate = 5
	}
	if c.ErrorBurst <= 0 {
		c.ErrorBurst = 10
	}
}

// Session is one connected client. The read pump drives the state
// machine and handlers; the write pump drains the outbound queue. The
// viewer methods are called on a world's tick goroutine and only encode
// and enqueue, never block.
type Session struct {
	log    *zap.Logger
	conn   *websocket.Conn
	config Config
	queue  *sendQueue

	handlers map[protocol.MsgType]Handler
	onClose  func(*Session)

	state atomic.Int32

	// Retransmit suppression ring over inbound envelope ids.
	seen     map[int64]struct{}
	seenRing [dedupWindow]int64
	seenIdx  int

	errLimiter *rate.Limiter
	nextID     atomic.Int64

	mu       sync.Mutex
	playerID uuid.UUID
	username string
	world    *world.World

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

var _ world.Client = (*Session)(nil)

func NewSession(logger *zap.Logger, conn *websocket.Conn, config Config) *Session {
	config.fill()
	conn.SetReadLimit(config.MaxFrameBytes)
	return &Session{
		log:        logger,
		conn:       conn,
		config:     config,
		queue:      newSendQueue(),
		handlers:   make(map[protocol.MsgType]Handler),
		seen:       make(map[int64]struct{}, dedupWindow),
		errLimiter: rate.NewLimiter(config.ErrorRate, config.ErrorBurst),
		done:       make(chan struct{}),
	}
}

// Handle registers the handler for one message type. Must be called
// before Serve.
func (s *Session) Handle(t protocol.MsgType, h Handler) { s.handlers[t] = h }

// OnClose registers a cleanup callback, invoked exactly once after the
// pumps stop.
func (s *Session) OnClose(f func(*Session)) { s.onClose = f }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// SetState advances the lifecycle. Transitions out of Disconnected are
// ignored.
func (s *Session) SetState(st State) {
	for {
		cur := s.state.Load()
		if State(cur) == Disconnected {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// SetIdentity records the authenticated player.
func (s *Session) SetIdentity(id uuid.UUID, username string) {
	s.mu.Lock()
	s.playerID = id
	s.username = username
	s.mu.Unlock()
}

// Identity returns the authenticated player id and name.
func (s *Session) Identity() (uuid.UUID, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID, s.username
}

// SetWorld records the joined world, nil on leave.
func (s *Session) SetWorld(w *world.World) {
	s.mu.Lock()
	s.world = w
	s.mu.Unlock()
}

// World returns the joined world or nil.
func (s *Session) World() *world.World {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world
}

// Serve runs the pumps until the connection dies or the session is
// disconnected. Blocks; the caller owns the goroutine.
func (s *Session) Serve() {
	go s.writePump()
	s.readPump()
	s.Disconnect(nil)
	<-s.done
	if s.onClose != nil {
		s.onClose(s)
	}
}

// Disconnect tears the session down. Safe from any goroutine; the
// reason (if any) is sent to the client on a best-effort basis.
func (s *Session) Disconnect(reason error) {
	s.closeOnce.Do(func() {
		s.closeErr = reason
		s.state.Store(int32(Disconnected))
		if reason != nil {
			data, err := protocol.MarshalBody(protocol.MsgError, &protocol.ErrorMessage{
				Error: reason.Error(),
				Code:  protocol.CodeOf(reason),
			})
			if err == nil {
				frame := protocol.Encode(s.envelope(protocol.MsgError, data))
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				_ = s.conn.WriteMessage(websocket.BinaryMessage, frame)
			}
		}
		s.queue.Close()
		_ = s.conn.Close()
	})
}

// Send encodes a control message and enqueues it. Never blocks; a full
// backlog disconnects the session.
func (s *Session) Send(t protocol.MsgType, body any) {
	data, err := protocol.MarshalBody(t, body)
	if err != nil {
		s.log.Error("encode message fail", zap.Stringer("type", t), zap.Error(err))
		return
	}
	frame := protocol.Encode(s.envelope(t, data))
	if !s.queue.PushControl(frame) {
		s.log.Warn("send backlog exceeded, dropping session")
		s.Disconnect(protocol.ErrTimeout)
	}
}

// ViewChunkData streams a chunk column. Runs on the tick goroutine;
// the chunk payload is encoded here, before the next mutation.
func (s *Session) ViewChunkData(c *world.Chunk) {
	s.Send(protocol.MsgChunkData, c.Payload())
}

// ViewChunkUnload drops server-side interest in a column. Nothing
// crosses the wire: clients mirror the interest rule from their own
// position.
func (s *Session) ViewChunkUnload(world.ChunkPos) {}

func (s *Session) ViewEntitySpawn(e *world.Entity, username string) {
	s.Send(protocol.MsgEntitySpawn, &protocol.EntitySpawn{
		EntityID: e.ID,
		Kind:     string(e.Kind),
		Name:     username,
		Position: e.Position,
		Rotation: e.Rotation,
		Health:   e.Health,
	})
}

func (s *Session) ViewEntityUpdate(batch *protocol.EntityBatch) {
	s.queue.PushDeltas(batch)
}

func (s *Session) ViewEntityDespawn(id int32) {
	s.Send(protocol.MsgEntityDespawn, &protocol.EntityDespawn{EntityID: id})
}

func (s *Session) envelope(t protocol.MsgType, payload []byte) protocol.Envelope {
	return protocol.Envelope{
		Type:      t,
		ID:        s.nextID.Add(1),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

func (s *Session) readPump() {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			return
		}
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Info("session liveness timeout")
				s.Disconnect(protocol.ErrTimeout)
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read fail", zap.Error(err))
			}
			return
		}
		if mt != websocket.BinaryMessage {
			if !s.reportError(protocol.ErrMalformedPayload) {
				return
			}
			continue
		}
		if !s.dispatch(data) {
			return
		}
	}
}

// dispatch decodes and routes one frame. Reports false when the session
// must stop reading.
func (s *Session) dispatch(data []byte) bool {
	env, err := protocol.Decode(data)
	if err != nil {
		return s.reportError(err)
	}
	if s.duplicate(env.ID) {
		// Retransmit: acknowledged, not re-executed.
		return true
	}
	body, err := protocol.UnmarshalBody(env)
	if err != nil {
		return s.reportError(err)
	}

	switch env.Type {
	case protocol.MsgPing:
		s.Send(protocol.MsgPong, &protocol.Pong{Timestamp: body.(*protocol.Ping).Timestamp})
		return true
	case protocol.MsgPong:
		return true
	}

	st := s.State()
	if st == Disconnected {
		return false
	}
	if !stateAllowed[st][env.Type] {
		s.log.Debug("message out of state",
			zap.Stringer("type", env.Type), zap.Stringer("state", st))
		return s.reportError(protocol.ErrInvalidState)
	}
	h := s.handlers[env.Type]
	if h == nil {
		return s.reportError(protocol.ErrUnknownMessageType)
	}
	if err := h(s, &env, body); err != nil {
		return s.reportError(err)
	}
	return true
}

// duplicate records an inbound id and reports whether it was already
// seen within the dedup window.
func (s *Session) duplicate(id int64) bool {
	if _, ok := s.seen[id]; ok {
		return true
	}
	old := s.seenRing[s.seenIdx]
	if _, ok := s.seen[old]; ok {
		delete(s.seen, old)
	}
	s.seenRing[s.seenIdx] = id
	s.seenIdx = (s.seenIdx + 1) % dedupWindow
	s.seen[id] = struct{}{}
	return false
}

// reportError answers a recoverable protocol error in place. A session
// that keeps producing errors is cut; reports false in that case.
func (s *Session) reportError(err error) bool {
	s.Send(protocol.MsgError, &protocol.ErrorMessage{
		Error: err.Error(),
		Code:  protocol.CodeOf(err),
	})
	if !s.errLimiter.Allow() {
		s.log.Warn("protocol error budget exceeded", zap.Error(err))
		s.Disconnect(protocol.ErrInvalidState)
		return false
	}
	return true
}

func (s *Session) writePump() {
	defer close(s.done)
	for {
		frames, batch, ok := s.queue.Pull()
		if !ok {
			return
		}
		for _, frame := range frames {
			if !s.writeFrame(frame) {
				return
			}
		}
		if batch != nil {
			env := s.envelope(protocol.MsgEntityUpdate, batch.MarshalBinary())
			if !s.writeFrame(protocol.Encode(env)) {
				return
			}
		}
	}
}

func (s *Session) writeFrame(frame []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return false
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		s.log.Debug("write fail", zap.Error(err))
		s.Disconnect(nil)
		return false
	}
	return true
}
