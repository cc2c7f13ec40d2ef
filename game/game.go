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

// Package game wires sessions, worlds, persistence and the gameplay
// rules together: authentication, the world registry, chat, crafting
// and commands all live here.
package game

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"StrixCore/client"
	"StrixCore/protocol"
	"StrixCore/storage"
	"StrixCore/world"
)

// xpBlockBreak is the experience granted per block broken in survival.
const xpBlockBreak = 1

// Game is the server: it accepts sessions and owns everything that is
// not world-tick state.
type Game struct {
	log       *zap.Logger
	config    Config
	store     *storage.Store
	startedAt time.Time

	recipes *recipeBook
	chat    *chatRoom

	upgrader websocket.Upgrader

	// mu guards the registry and the online set.
	mu       sync.Mutex
	registry *registry
	online   map[uuid.UUID]*client.Session
	sessions int
}

func NewGame(logger *zap.Logger, config Config, store *storage.Store) *Game {
	config.Default()
	return &Game{
		log:       logger,
		config:    config,
		store:     store,
		startedAt: time.Now(),
		recipes:   defaultRecipes(),
		chat:      newChatRoom(config.ChatLimiter),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		registry: newRegistry(logger.Named("registry"), store, &config),
		online:   make(map[uuid.UUID]*client.Session),
	}
}

// ServeHTTP upgrades one connection and runs its session to completion.
// Mounted on the websocket endpoint.
func (g *Game) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("upgrade fail", zap.Error(err))
		return
	}

	g.mu.Lock()
	if g.config.MaxSessions > 0 && g.sessions >= g.config.MaxSessions {
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.sessions++
	g.mu.Unlock()

	s := client.NewSession(g.log.Named("session"), conn, client.Config{
		ReadTimeout:   g.config.ReadTimeout.Duration,
		WriteTimeout:  g.config.WriteTimeout.Duration,
		MaxFrameBytes: g.config.MaxFrameBytes,
		ErrorRate:     g.config.ProtocolErrorLimiter.Limiter().Limit(),
		ErrorBurst:    g.config.ProtocolErrorLimiter.N,
	})
	g.registerHandlers(s)
	s.OnClose(g.cleanup)
	s.Serve()
}

func (g *Game) registerHandlers(s *client.Session) {
	s.Handle(protocol.MsgAuthRequest, g.handleAuth)
	s.Handle(protocol.MsgWorldListRequest, g.handleWorldList)
	s.Handle(protocol.MsgWorldCreateRequest, g.handleWorldCreate)
	s.Handle(protocol.MsgWorldJoinRequest, g.handleWorldJoin)
	s.Handle(protocol.MsgWorldLeaveRequest, g.handleWorldLeave)
	s.Handle(protocol.MsgWorldDeleteRequest, g.handleWorldDelete)
	s.Handle(protocol.MsgChunkRequest, g.handleChunkRequest)
	s.Handle(protocol.MsgBlockUpdate, g.handleBlockUpdate)
	s.Handle(protocol.MsgPlayerUpdate, g.handlePlayerUpdate)
	s.Handle(protocol.MsgCraftingRequest, g.handleCrafting)
	s.Handle(protocol.MsgInventoryAction, g.handleInventory)
	s.Handle(protocol.MsgChatMessage, g.handleChat)
	s.Handle(protocol.MsgCommandRequest, g.handleCommand)
	s.Handle(protocol.MsgServerStats, g.handleServerStats)
}

// cleanup runs once per session after the pumps stop. World membership,
// the online set and chat state are all released here, so an abrupt
// disconnect cleans up exactly like a graceful leave.
func (g *Game) cleanup(s *client.Session) {
	g.mu.Lock()
	g.registry.leave(s)
	id, _ := s.Identity()
	if id != uuid.Nil {
		if g.online[id] == s {
			delete(g.online, id)
		}
		g.chat.Forget(id)
	}
	g.sessions--
	g.mu.Unlock()
}

// Shutdown stops every running world, flushing state to disk.
func (g *Game) Shutdown() {
	g.mu.Lock()
	g.registry.stopAll()
	g.mu.Unlock()
}

func dbCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func (g *Game) handleAuth(s *client.Session, _ *protocol.Envelope, body any) error {
	req := body.(*protocol.AuthRequest)
	if req.Username == "" {
		s.Send(protocol.MsgAuthResponse, &protocol.AuthResponse{Error: "username must not be empty"})
		return nil
	}
	ctx, cancel := dbCtx()
	defer cancel()
	acc, err := g.store.Authenticate(ctx, req.Username, req.Password)
	if errors.Is(err, storage.ErrBadCredentials) {
		s.Send(protocol.MsgAuthResponse, &protocol.AuthResponse{Error: "bad credentials"})
		return nil
	}
	if err != nil {
		g.log.Error("authenticate fail", zap.Error(err))
		s.Send(protocol.MsgAuthResponse, &protocol.AuthResponse{Error: "internal error"})
		return nil
	}

	g.mu.Lock()
	if _, online := g.online[acc.ID]; online {
		g.mu.Unlock()
		s.Send(protocol.MsgAuthResponse, &protocol.AuthResponse{Error: "account already logged in"})
		return nil
	}
	g.online[acc.ID] = s
	g.mu.Unlock()

	s.SetIdentity(acc.ID, acc.Username)
	s.SetState(client.Authenticated)
	g.log.Info("session authenticated", zap.String("username", acc.Username))
	s.Send(protocol.MsgAuthResponse, &protocol.AuthResponse{
		Success: true,
		Token:   uuid.NewString(),
	})
	return nil
}

func (g *Game) handleWorldList(s *client.Session, _ *protocol.Envelope, _ any) error {
	ctx, cancel := dbCtx()
	defer cancel()
	g.mu.Lock()
	infos, err := g.registry.list(ctx)
	g.mu.Unlock()
	if err != nil {
		g.log.Error("list worlds fail", zap.Error(err))
		return protocol.ErrNotFound
	}
	s.Send(protocol.MsgWorldListResponse, &protocol.WorldListResponse{Worlds: infos})
	return nil
}

func (g *Game) handleWorldCreate(s *client.Session, _ *protocol.Envelope, body any) error {
	req := body.(*protocol.WorldCreateRequest)
	ctx, cancel := dbCtx()
	defer cancel()
	rec, err := g.registry.create(ctx, req)
	if err != nil {
		s.Send(protocol.MsgWorldCreateResponse, &protocol.WorldCreateResponse{Error: err.Error()})
		return nil
	}
	info := worldInfo(rec)
	s.Send(protocol.MsgWorldCreateResponse, &protocol.WorldCreateResponse{Success: true, World: &info})
	return nil
}

func (g *Game) handleWorldJoin(s *client.Session, _ *protocol.Envelope, body any) error {
	req := body.(*protocol.WorldJoinRequest)
	id, err := uuid.Parse(req.WorldID)
	if err != nil {
		s.Send(protocol.MsgWorldJoinResponse, &protocol.WorldJoinResponse{Error: "bad world id"})
		return nil
	}
	ctx, cancel := dbCtx()
	defer cancel()

	g.mu.Lock()
	rw, err := g.registry.join(ctx, s, id)
	g.mu.Unlock()
	if err != nil {
		s.Send(protocol.MsgWorldJoinResponse, &protocol.WorldJoinResponse{Error: err.Error()})
		return nil
	}

	accID, username := s.Identity()
	p, err := g.store.LoadPlayer(ctx, accID)
	if errors.Is(err, world.ErrPlayerNotExist) {
		p = world.NewPlayer(accID, username,
			world.ParseGameMode(rw.rec.GameMode), rw.w.SpawnPosition())
		err = nil
	}
	if err != nil {
		g.log.Error("load player fail", zap.Error(err))
		g.mu.Lock()
		g.registry.leave(s)
		g.mu.Unlock()
		s.Send(protocol.MsgWorldJoinResponse, &protocol.WorldJoinResponse{Error: "internal error"})
		return nil
	}

	s.SetWorld(rw.w)
	s.SetState(client.WorldJoined)
	info := worldInfo(rw.rec)
	limiter := g.config.PlayerChunkLoadingLimiter.Limiter()
	rw.w.Do(func(w *world.World) {
		w.AddPlayer(s, p, limiter)
		s.Send(protocol.MsgWorldJoinResponse, &protocol.WorldJoinResponse{
			Success: true,
			World:   &info,
			Player:  p.Info(),
		})
	})
	return nil
}

func (g *Game) handleWorldLeave(s *client.Session, _ *protocol.Envelope, _ any) error {
	g.mu.Lock()
	g.registry.leave(s)
	g.mu.Unlock()
	s.SetWorld(nil)
	s.SetState(client.Authenticated)
	return nil
}

func (g *Game) handleWorldDelete(s *client.Session, _ *protocol.Envelope, body any) error {
	req := body.(*protocol.WorldDeleteRequest)
	id, err := uuid.Parse(req.WorldID)
	if err != nil {
		return protocol.ErrMalformedPayload
	}
	ctx, cancel := dbCtx()
	defer cancel()
	g.mu.Lock()
	err = g.registry.delete(ctx, id)
	g.mu.Unlock()
	if err != nil {
		s.Send(protocol.MsgError, &protocol.ErrorMessage{Error: err.Error()})
		return nil
	}
	// Confirm with a fresh listing.
	return g.handleWorldList(s, nil, nil)
}

// joined returns the session's running world or an invalid-state error.
func (g *Game) joined(s *client.Session) (*runningWorld, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rw := g.registry.sessionWorld(s)
	if rw == nil {
		return nil, protocol.ErrInvalidState
	}
	return rw, nil
}

func (g *Game) handleChunkRequest(s *client.Session, _ *protocol.Envelope, body any) error {
	req := body.(*protocol.ChunkRequest)
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	rw.w.Do(func(w *world.World) {
		if err := w.RequestChunk(s, world.ChunkPos{req.X, req.Z}); err != nil {
			s.Send(protocol.MsgError, &protocol.ErrorMessage{
				Error: err.Error(), Code: protocol.CodeOf(err),
			})
		}
	})
	return nil
}

func (g *Game) handleBlockUpdate(s *client.Session, _ *protocol.Envelope, body any) error {
	upd := body.(*protocol.BlockUpdate)
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	rw.w.Do(func(w *world.World) {
		p := w.Player(s)
		if p == nil {
			return
		}
		survival := p.GameMode == world.Survival
		placing := upd.BlockID != world.BlockAir
		if survival && placing && !p.RemoveItem(upd.BlockID, 1) {
			s.Send(protocol.MsgError, &protocol.ErrorMessage{
				Error: "item not in inventory", Code: protocol.CodeOf(protocol.ErrNotFound),
			})
			return
		}
		prev, err := w.ApplyBlockUpdate(upd)
		if err != nil {
			if survival && placing {
				p.AddItem(upd.BlockID, 1) // refund
			}
			s.Send(protocol.MsgError, &protocol.ErrorMessage{
				Error: err.Error(), Code: protocol.CodeOf(err),
			})
			return
		}
		if survival && !placing && prev != world.BlockAir {
			p.AddItem(prev, 1)
			p.AddExperience(xpBlockBreak)
			p.Touch(w.Tick())
			s.Send(protocol.MsgExperienceUpdate, &protocol.ExperienceUpdate{
				PlayerID:   p.UUID.String(),
				Experience: p.Experience,
				Level:      p.Level,
			})
		}
	})
	return nil
}

func (g *Game) handlePlayerUpdate(s *client.Session, _ *protocol.Envelope, body any) error {
	upd := body.(*protocol.PlayerUpdate)
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	pos, rot := upd.Position, upd.Rotation
	rw.w.Do(func(w *world.World) { w.MovePlayer(s, pos, rot) })
	return nil
}

func (g *Game) handleCrafting(s *client.Session, _ *protocol.Envelope, body any) error {
	req := body.(*protocol.CraftingRequest)
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	recipe, ok := g.recipes.Match(req)
	if !ok {
		s.Send(protocol.MsgCraftingResponse, &protocol.CraftingResponse{Error: "no matching recipe"})
		return nil
	}
	rw.w.Do(func(w *world.World) {
		p := w.Player(s)
		if p == nil {
			return
		}
		if !consumeGrid(p, req.Grid, req.Counts) {
			s.Send(protocol.MsgCraftingResponse, &protocol.CraftingResponse{Error: "missing ingredients"})
			return
		}
		p.AddItem(recipe.Result, recipe.Count)
		p.Touch(w.Tick())
		s.Send(protocol.MsgCraftingResponse, &protocol.CraftingResponse{
			Success: true, Item: recipe.Result, Count: recipe.Count,
		})
	})
	return nil
}

func (g *Game) handleInventory(s *client.Session, _ *protocol.Envelope, body any) error {
	act := body.(*protocol.InventoryAction)
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	rw.w.Do(func(w *world.World) {
		p := w.Player(s)
		if p == nil {
			return
		}
		switch act.Action {
		case "select":
			if act.From >= 0 && act.From < world.HotbarSize {
				p.Selected = act.From
			}
		case "move", "swap":
			p.MoveItem(act.From, act.To, act.Count)
		case "drop":
			if act.From < 0 || act.From >= world.InventorySize {
				return
			}
			sl := &p.Inventory[act.From]
			n := act.Count
			if n <= 0 || n > sl.Count {
				n = sl.Count
			}
			if n == 0 {
				return
			}
			sl.Count -= n
			if sl.Count == 0 {
				sl.Item = 0
			}
		default:
			s.Send(protocol.MsgError, &protocol.ErrorMessage{
				Error: "unknown inventory action", Code: protocol.CodeOf(protocol.ErrMalformedPayload),
			})
			return
		}
		p.Touch(w.Tick())
	})
	return nil
}

func (g *Game) handleChat(s *client.Session, _ *protocol.Envelope, body any) error {
	msg := body.(*protocol.ChatMessage)
	id, username := s.Identity()

	kind := msg.MessageType
	if kind != "whisper" {
		kind = "chat" // system lines are server-issued only
	}
	if err := g.chat.Vet(id, username, msg.Content, kind); err != nil {
		s.Send(protocol.MsgError, &protocol.ErrorMessage{Error: err.Error()})
		return nil
	}
	out := &protocol.ChatMessage{
		Sender:      username,
		Content:     msg.Content,
		MessageType: kind,
		Target:      msg.Target,
	}

	if kind == "whisper" {
		target := g.findOnline(msg.Target)
		if target == nil {
			s.Send(protocol.MsgError, &protocol.ErrorMessage{
				Error: "player not online", Code: protocol.CodeOf(protocol.ErrNotFound),
			})
			return nil
		}
		target.Send(protocol.MsgChatMessage, out)
		s.Send(protocol.MsgChatMessage, out)
		return nil
	}

	g.mu.Lock()
	members := g.registry.membersOf(s)
	g.mu.Unlock()
	for _, m := range members {
		m.Send(protocol.MsgChatMessage, out)
	}
	return nil
}

func (g *Game) findOnline(username string) *client.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.online {
		if _, name := s.Identity(); name == username {
			return s
		}
	}
	return nil
}

// systemMessage broadcasts a server-issued chat line to every member of
// the session's world.
func (g *Game) systemMessage(s *client.Session, content string) {
	out := &protocol.ChatMessage{Sender: "server", Content: content, MessageType: "system"}
	g.mu.Lock()
	members := g.registry.membersOf(s)
	g.mu.Unlock()
	for _, m := range members {
		m.Send(protocol.MsgChatMessage, out)
	}
}
