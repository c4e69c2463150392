// Package affinity pins goroutines to CPU cores, best-effort. Pinning
// keeps the engine's worker and loader threads from migrating under the
// scheduler; on platforms without sched_setaffinity it degrades to
// LockOSThread alone.
package affinity

import "runtime"

// Pin locks the calling goroutine to an OS thread and binds that thread
// to the given core, wrapping into the available set when core exceeds
// it. Returns the core actually used, or -1 if only the thread lock
// applied.
func Pin(core int) int {
	runtime.LockOSThread()
	return setAffinity(core)
}
