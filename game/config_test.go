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
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func TestConfigDecode(t *testing.T) {
	const doc = `
listen-address = ":9000"
view-distance = 6
tick-interval = "25ms"

[chunk-loading-limiter]
every = "10ms"
N = 128
`
	var c Config
	if _, err := toml.Decode(doc, &c); err != nil {
		t.Fatal(err)
	}
	c.Default()

	if c.ListenAddress != ":9000" || c.ViewDistance != 6 {
		t.Errorf("decoded %q view %d", c.ListenAddress, c.ViewDistance)
	}
	if c.TickInterval.Duration != 25*time.Millisecond {
		t.Errorf("tick interval %v", c.TickInterval.Duration)
	}
	if c.ChunkLoadingLimiter.Every.Duration != 10*time.Millisecond || c.ChunkLoadingLimiter.N != 128 {
		t.Errorf("limiter %+v", c.ChunkLoadingLimiter)
	}
	// Unset keys pick up defaults; max-sessions keeps 0 as unlimited.
	if c.SaveInterval.Duration == 0 || c.GenWorkers == 0 {
		t.Errorf("defaults not applied: %+v", c)
	}
	if c.MaxSessions != 0 {
		t.Errorf("max-sessions defaulted to %d, want 0", c.MaxSessions)
	}
	lim := c.ChunkLoadingLimiter.Limiter()
	if !lim.Allow() {
		t.Error("fresh limiter should allow a burst token")
	}
}
