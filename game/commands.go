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
	"fmt"
	"strconv"
	"strings"
	"time"

	"StrixCore/client"
	"StrixCore/protocol"
	"StrixCore/world"
)

func (g *Game) handleCommand(s *client.Session, _ *protocol.Envelope, body any) error {
	req := body.(*protocol.CommandRequest)
	cmd := strings.TrimPrefix(strings.ToLower(req.Command), "/")
	switch cmd {
	case "tp":
		return g.cmdTeleport(s, req.Args)
	case "give":
		return g.cmdGive(s, req.Args)
	case "time":
		return g.cmdTime(s)
	case "gamemode":
		return g.cmdGameMode(s, req.Args)
	case "say":
		return g.cmdSay(s, req.Args)
	case "mute":
		return g.cmdMute(s, req.Args)
	case "stats":
		s.Send(protocol.MsgServerStats, g.statsSnapshot())
		return nil
	default:
		respond(s, false, fmt.Sprintf("unknown command %q", req.Command))
		return nil
	}
}

func respond(s *client.Session, success bool, message string) {
	s.Send(protocol.MsgCommandResponse, &protocol.CommandResponse{
		Success: success, Message: message,
	})
}

func (g *Game) cmdTeleport(s *client.Session, args []string) error {
	if len(args) != 3 {
		respond(s, false, "usage: /tp <x> <y> <z>")
		return nil
	}
	var pos [3]float64
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			respond(s, false, "coordinates must be numbers")
			return nil
		}
		pos[i] = v
	}
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	rw.w.Do(func(w *world.World) {
		w.MovePlayer(s, pos, [2]float32{})
		respond(s, true, fmt.Sprintf("teleported to %.1f %.1f %.1f", pos[0], pos[1], pos[2]))
	})
	return nil
}

func (g *Game) cmdGive(s *client.Session, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		respond(s, false, "usage: /give <item> [count]")
		return nil
	}
	item, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil || item == 0 || item > protocol.MaxBlockID {
		respond(s, false, "bad item id")
		return nil
	}
	count := 1
	if len(args) == 2 {
		if count, err = strconv.Atoi(args[1]); err != nil || count < 1 || count > 64*world.InventorySize {
			respond(s, false, "bad count")
			return nil
		}
	}
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	rw.w.Do(func(w *world.World) {
		p := w.Player(s)
		if p == nil {
			return
		}
		leftover := p.AddItem(uint16(item), count)
		p.Touch(w.Tick())
		respond(s, true, fmt.Sprintf("gave %d of item %d", count-leftover, item))
	})
	return nil
}

func (g *Game) cmdTime(s *client.Session) error {
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	rw.w.Do(func(w *world.World) {
		respond(s, true, fmt.Sprintf("world tick %d", w.Tick()))
	})
	return nil
}

func (g *Game) cmdGameMode(s *client.Session, args []string) error {
	if len(args) != 1 {
		respond(s, false, "usage: /gamemode <survival|creative>")
		return nil
	}
	mode := world.ParseGameMode(args[0])
	rw, err := g.joined(s)
	if err != nil {
		return err
	}
	rw.w.Do(func(w *world.World) {
		w.SetGameMode(s, mode)
		respond(s, true, "game mode set to "+mode.String())
	})
	return nil
}

func (g *Game) cmdSay(s *client.Session, args []string) error {
	if len(args) == 0 {
		respond(s, false, "usage: /say <message>")
		return nil
	}
	if _, err := g.joined(s); err != nil {
		return err
	}
	g.systemMessage(s, strings.Join(args, " "))
	respond(s, true, "")
	return nil
}

func (g *Game) cmdMute(s *client.Session, args []string) error {
	if len(args) != 2 {
		respond(s, false, "usage: /mute <player> <duration>")
		return nil
	}
	target := g.findOnline(args[0])
	if target == nil {
		respond(s, false, "player not online")
		return nil
	}
	d, err := time.ParseDuration(args[1])
	if err != nil || d <= 0 {
		respond(s, false, "bad duration")
		return nil
	}
	id, _ := target.Identity()
	g.chat.Mute(id, time.Now().Add(d))
	respond(s, true, fmt.Sprintf("muted %s for %s", args[0], d))
	return nil
}
