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
	"time"

	"golang.org/x/time/rate"
)

// Config is the server configuration, read from config.toml. Unknown
// keys are rejected at startup so typos fail loudly.
type Config struct {
	ListenAddress string `toml:"listen-address"`
	DatabasePath  string `toml:"database-path"`

	// Cap on concurrently connected sessions, 0 for unlimited.
	MaxSessions int `toml:"max-sessions"`

	// Per-world player cap used when a world doesn't set its own.
	MaxPlayersPerWorld int `toml:"max-players-per-world"`

	// Interest radius in chunks. Radius 1 means a 3x3 column square.
	ViewDistance int32 `toml:"view-distance"`

	TickInterval  duration `toml:"tick-interval"`
	SaveInterval  duration `toml:"save-interval"`
	EvictionGrace duration `toml:"eviction-grace"`

	// Worker pool size for chunk load/generation jobs, per world.
	GenWorkers int `toml:"gen-workers"`

	// Liveness: a session that stays silent longer than this is cut.
	ReadTimeout  duration `toml:"read-timeout"`
	WriteTimeout duration `toml:"write-timeout"`

	MaxFrameBytes int64 `toml:"max-frame-bytes"`

	// Load shedding.
	ChunkLoadingLimiter       Limiter `toml:"chunk-loading-limiter"`
	PlayerChunkLoadingLimiter Limiter `toml:"player-chunk-loading-limiter"`
	ProtocolErrorLimiter      Limiter `toml:"protocol-error-limiter"`
	ChatLimiter               Limiter `toml:"chat-limiter"`
}

// Default fills zero values with workable defaults so a minimal config
// file still boots.
func (c *Config) Default() {
	if c.ListenAddress == "" {
		c.ListenAddress = "0.0.0.0:8080"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "strixcore.db"
	}
	if c.MaxPlayersPerWorld <= 0 {
		c.MaxPlayersPerWorld = 20
	}
	if c.ViewDistance <= 0 {
		c.ViewDistance = 8
	}
	if c.TickInterval.Duration <= 0 {
		c.TickInterval.Duration = 50 * time.Millisecond
	}
	if c.SaveInterval.Duration <= 0 {
		c.SaveInterval.Duration = 5 * time.Minute
	}
	if c.EvictionGrace.Duration <= 0 {
		c.EvictionGrace.Duration = 5 * time.Minute
	}
	if c.GenWorkers <= 0 {
		c.GenWorkers = 4
	}
	if c.ReadTimeout.Duration <= 0 {
		c.ReadTimeout.Duration = 30 * time.Second
	}
	if c.WriteTimeout.Duration <= 0 {
		c.WriteTimeout.Duration = 10 * time.Second
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 1 << 20
	}
	if c.ChunkLoadingLimiter.N <= 0 {
		c.ChunkLoadingLimiter = Limiter{Every: duration{5 * time.Millisecond}, N: 256}
	}
	if c.PlayerChunkLoadingLimiter.N <= 0 {
		c.PlayerChunkLoadingLimiter = Limiter{Every: duration{10 * time.Millisecond}, N: 64}
	}
	if c.ProtocolErrorLimiter.N <= 0 {
		c.ProtocolErrorLimiter = Limiter{Every: duration{time.Second}, N: 5}
	}
	if c.ChatLimiter.N <= 0 {
		c.ChatLimiter = Limiter{Every: duration{time.Second}, N: 1}
	}
}

// Limiter is the config form of a token bucket: N actions every Every.
type Limiter struct {
	Every duration `toml:"every"`
	N     int
}

func (l *Limiter) Limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(l.Every.Duration), l.N)
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}
