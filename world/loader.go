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

package world

import (
	"math"
	"sort"

	"golang.org/x/exp/constraints"
	"golang.org/x/time/rate"
)

// loader tracks one session's chunk interest: every column within the
// configured Chebyshev radius of the session's chunk coordinate. It
// owns the session side of the visible-set/subscriber-set invariant.
type loader struct {
	center ChunkPos
	radius int32

	visible     map[ChunkPos]struct{}
	loadQueue   []ChunkPos
	unloadQueue []ChunkPos
	limiter     *rate.Limiter
}

func newLoader(center ChunkPos, radius int32, limiter *rate.Limiter) *loader {
	l := &loader{
		center:  center,
		radius:  radius,
		visible: make(map[ChunkPos]struct{}),
		limiter: limiter,
	}
	l.calcLoadQueue()
	return l
}

// SetCenter moves the interest disk; queues are recomputed lazily on
// the next subtick.
func (l *loader) SetCenter(pos ChunkPos) { l.center = pos }

// calcLoadQueue fills loadQueue with interest columns not yet visible,
// nearest first. The symmetric difference against the old interest set
// falls out of the visible-set check: kept columns are filtered here,
// dropped columns are found by calcUnloadQueue.
func (l *loader) calcLoadQueue() {
	l.loadQueue = l.loadQueue[:0]
	for _, off := range interestOffsets[:interestIndex[l.radius]] {
		pos := ChunkPos{l.center[0] + off[0], l.center[1] + off[1]}
		if _, ok := l.visible[pos]; !ok {
			l.loadQueue = append(l.loadQueue, pos)
		}
	}
}

// calcUnloadQueue fills unloadQueue with visible columns that left the
// interest disk.
func (l *loader) calcUnloadQueue() {
	l.unloadQueue = l.unloadQueue[:0]
	for pos := range l.visible {
		d := chebyshev(
			[2]int32{pos[0] - l.center[0], pos[1] - l.center[1]},
		)
		if d > l.radius {
			l.unloadQueue = append(l.unloadQueue, pos)
		}
	}
}

// maxInterestRadius bounds the precomputed offset table.
const maxInterestRadius int32 = 32

// interestOffsets holds every offset within maxInterestRadius, sorted
// by Chebyshev ring and by Euclidean distance inside a ring, so a
// radius-r interest set is the prefix interestOffsets[:interestIndex[r]]
// and iterating it streams nearest-first.
var interestOffsets [][2]int32

// interestIndex[r] is the prefix length covering radius r.
var interestIndex []int

func init() {
	for x := -maxInterestRadius; x <= maxInterestRadius; x++ {
		for z := -maxInterestRadius; z <= maxInterestRadius; z++ {
			interestOffsets = append(interestOffsets, [2]int32{x, z})
		}
	}
	sort.Slice(interestOffsets, func(i, j int) bool {
		a, b := interestOffsets[i], interestOffsets[j]
		if ra, rb := chebyshev(a), chebyshev(b); ra != rb {
			return ra < rb
		}
		return euclidean(a) < euclidean(b)
	})

	interestIndex = make([]int, maxInterestRadius+1)
	for i, off := range interestOffsets {
		r := chebyshev(off)
		for ; r <= maxInterestRadius; r++ {
			interestIndex[r] = i + 1
		}
	}
}

// chebyshev is the L∞ norm: the interest metric.
func chebyshev[T constraints.Signed](pos [2]T) T {
	return max(abs(pos[0]), abs(pos[1]))
}

// euclidean orders columns within one Chebyshev ring for nearest-first
// streaming.
func euclidean[T constraints.Signed](pos [2]T) float64 {
	return math.Sqrt(float64(pos[0]*pos[0] + pos[1]*pos[1]))
}

func abs[T constraints.Signed](v T) T {
	if v < 0 {
		return -v
	}
	return v
}
