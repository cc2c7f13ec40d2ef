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

package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"StrixCore/protocol"
)

// dialSession spins up one server-side session behind an httptest
// server and returns the client end of the socket.
func dialSession(t *testing.T, setup func(*Session)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s := NewSession(zaptest.NewLogger(t), conn, Config{ReadTimeout: 5 * time.Second})
		setup(s)
		go s.Serve()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, id int64, typ protocol.MsgType, body any) {
	t.Helper()
	payload, err := protocol.MarshalBody(typ, body)
	if err != nil {
		t.Fatal(err)
	}
	frame := protocol.Encode(protocol.Envelope{
		Type: typ, ID: id, Timestamp: time.Now().UnixMilli(), Payload: payload,
	})
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatal(err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (protocol.Envelope, any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	body, err := protocol.UnmarshalBody(env)
	if err != nil {
		t.Fatalf("unmarshal %v: %v", env.Type, err)
	}
	return env, body
}

func TestPingAnsweredInEveryState(t *testing.T) {
	conn := dialSession(t, func(s *Session) {})

	writeEnvelope(t, conn, 1, protocol.MsgPing, &protocol.Ping{Timestamp: 12345})
	env, body := readEnvelope(t, conn)
	if env.Type != protocol.MsgPong {
		t.Fatalf("got %v, want pong", env.Type)
	}
	if body.(*protocol.Pong).Timestamp != 12345 {
		t.Error("pong does not echo the ping timestamp")
	}
}

func TestOutOfStateMessageRejected(t *testing.T) {
	var handled atomic.Int32
	conn := dialSession(t, func(s *Session) {
		s.Handle(protocol.MsgBlockUpdate, func(*Session, *protocol.Envelope, any) error {
			handled.Add(1)
			return nil
		})
	})

	// Block updates require the world_joined state.
	writeEnvelope(t, conn, 1, protocol.MsgBlockUpdate, &protocol.BlockUpdate{X: 1, Y: 1, Z: 1, BlockID: 1})
	env, body := readEnvelope(t, conn)
	if env.Type != protocol.MsgError {
		t.Fatalf("got %v, want error", env.Type)
	}
	if code := body.(*protocol.ErrorMessage).Code; code != protocol.CodeOf(protocol.ErrInvalidState) {
		t.Errorf("error code %d, want invalid-state", code)
	}
	if handled.Load() != 0 {
		t.Error("out-of-state message reached the handler")
	}
}

func TestRetransmitNotReexecuted(t *testing.T) {
	var handled atomic.Int32
	conn := dialSession(t, func(s *Session) {
		s.SetState(Authenticated)
		s.Handle(protocol.MsgWorldListRequest, func(s *Session, _ *protocol.Envelope, _ any) error {
			handled.Add(1)
			s.Send(protocol.MsgWorldListResponse, &protocol.WorldListResponse{})
			return nil
		})
	})

	writeEnvelope(t, conn, 42, protocol.MsgWorldListRequest, &protocol.WorldListRequest{})
	readEnvelope(t, conn)
	writeEnvelope(t, conn, 42, protocol.MsgWorldListRequest, &protocol.WorldListRequest{})
	// A distinguishable follow-up proves the retransmit was swallowed.
	writeEnvelope(t, conn, 43, protocol.MsgPing, &protocol.Ping{Timestamp: 7})
	env, _ := readEnvelope(t, conn)
	if env.Type != protocol.MsgPong {
		t.Fatalf("got %v, want pong (retransmit must produce nothing)", env.Type)
	}
	if handled.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", handled.Load())
	}
}

func TestErrorBudgetDisconnects(t *testing.T) {
	conn := dialSession(t, func(s *Session) {})

	// Unknown type tags burn the error budget until the server cuts us.
	deadline := time.Now().Add(5 * time.Second)
	var id int64
	for time.Now().Before(deadline) {
		id++
		frame := protocol.Encode(protocol.Envelope{Type: protocol.MsgType(9999), ID: id})
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return // server hung up: expected
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			return // expected
		}
	}
	t.Fatal("session survived a flood of malformed frames")
}

func TestStateTransitionsIgnoreDisconnected(t *testing.T) {
	s := &Session{}
	s.state.Store(int32(Disconnected))
	s.SetState(Authenticated)
	if s.State() != Disconnected {
		t.Error("transition out of disconnected accepted")
	}
}
