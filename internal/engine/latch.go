package engine

import (
	"runtime"
	"sync/atomic"
)

// spinBudget bounds busy polling before yielding the processor.
const spinBudget = 128

// genLatch is the single-bit generation latch that starts an iteration.
// The main thread toggles the bit; each worker waits for it to equal the
// worker's private expected bit and flips that bit locally afterwards.
// A spurious wake cannot advance a worker because the bit is
// single-valued.
type genLatch struct {
	bit atomic.Uint32
}

// toggle flips the generation bit, releasing all published iteration
// state to the waiters. Main thread only.
func (l *genLatch) toggle() {
	l.bit.Store(l.bit.Load() ^ 1)
}

// wait blocks until the bit equals expected.
func (l *genLatch) wait(expected uint32) {
	spins := 0
	for l.bit.Load() != expected {
		if spins++; spins >= spinBudget {
			spins = 0
			runtime.Gosched()
		}
	}
}

// awaitValue spins until the counter reaches target. Used by the main
// thread to drain the finish counter when it was not the last finisher.
func awaitValue(c *atomic.Uint32, target uint32) {
	spins := 0
	for c.Load() != target {
		if spins++; spins >= spinBudget {
			spins = 0
			runtime.Gosched()
		}
	}
}
