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
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"StrixCore/client"
	"StrixCore/protocol"
)

func (g *Game) statsSnapshot() *protocol.ServerStats {
	g.mu.Lock()
	players, chunks, worlds := g.registry.counts()
	g.mu.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &protocol.ServerStats{
		UptimeSeconds: int64(time.Since(g.startedAt) / time.Second),
		PlayerCount:   players,
		WorldCount:    worlds,
		ChunkCount:    chunks,
		Goroutines:    runtime.NumGoroutine(),
		HeapBytes:     ms.HeapAlloc,
	}
}

func (g *Game) handleServerStats(s *client.Session, _ *protocol.Envelope, _ any) error {
	s.Send(protocol.MsgServerStats, g.statsSnapshot())
	return nil
}

// StatsHandler exposes the same snapshot over plain HTTP for
// dashboards and probes.
func (g *Game) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.statsSnapshot()); err != nil {
			g.log.Error("encode stats fail", zap.Error(err))
		}
	})
}
