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
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	maxChatLength  = 256
	chatHistoryCap = 1000
)

var (
	ErrChatEmpty     = errors.New("empty chat message")
	ErrChatTooLong   = errors.New("chat message too long")
	ErrChatRateLimit = errors.New("sending messages too fast")
	ErrChatMuted     = errors.New("you are muted")
)

// historyEntry is one archived chat line.
type historyEntry struct {
	At      time.Time
	Sender  string
	Content string
	Kind    string
}

// chatRoom enforces per-sender rate limits and mutes and keeps a
// bounded history. Whisper routing stays in the game layer; the room
// only vets and archives.
type chatRoom struct {
	limiterCfg Limiter

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	mutes    map[uuid.UUID]time.Time
	history  []historyEntry
}

func newChatRoom(limiterCfg Limiter) *chatRoom {
	return &chatRoom{
		limiterCfg: limiterCfg,
		limiters:   make(map[uuid.UUID]*rate.Limiter),
		mutes:      make(map[uuid.UUID]time.Time),
	}
}

// Vet checks a message against length, mute and rate limits. Vetted
// messages are archived.
func (c *chatRoom) Vet(sender uuid.UUID, senderName, content, kind string) error {
	if content == "" {
		return ErrChatEmpty
	}
	if len(content) > maxChatLength {
		return ErrChatTooLong
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if until, ok := c.mutes[sender]; ok {
		if time.Now().Before(until) {
			return ErrChatMuted
		}
		delete(c.mutes, sender)
	}
	lim, ok := c.limiters[sender]
	if !ok {
		lim = c.limiterCfg.Limiter()
		c.limiters[sender] = lim
	}
	if !lim.Allow() {
		return ErrChatRateLimit
	}

	c.history = append(c.history, historyEntry{
		At: time.Now(), Sender: senderName, Content: content, Kind: kind,
	})
	if len(c.history) > chatHistoryCap {
		c.history = c.history[len(c.history)-chatHistoryCap:]
	}
	return nil
}

// Mute silences a player until the given time.
func (c *chatRoom) Mute(player uuid.UUID, until time.Time) {
	c.mu.Lock()
	c.mutes[player] = until
	c.mu.Unlock()
}

// Forget drops per-player limiter state on disconnect.
func (c *chatRoom) Forget(player uuid.UUID) {
	c.mu.Lock()
	delete(c.limiters, player)
	c.mu.Unlock()
}

// History returns the most recent n archived lines.
func (c *chatRoom) History(n int) []historyEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.history) {
		n = len(c.history)
	}
	out := make([]historyEntry, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}
