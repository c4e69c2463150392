package scene

import (
	"sync/atomic"

	"golang.org/x/exp/rand"

	"navrollout.ai/internal/dataset"
	"navrollout.ai/internal/oneshot"
)

// State is the swap pipeline phase of one active-scene slot.
type State int

const (
	// Idle: no replacement selected.
	Idle State = iota
	// Loading: a replacement load is in flight.
	Loading
	// Ready: the asset is resident, no env has acknowledged yet.
	Ready
	// Draining: some envs still point at the outgoing scene.
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// Swapper replaces one active scene with an inactive one without ever
// stalling the step loop. StartSwap/PreStep/PostStep run only on the
// engine's main thread; workers touch just ReadyAsset, CurrentScene,
// and Ack, all ordered by the engine's iteration hand-off.
//
// Invariants: at most one load outstanding per swapper; the
// acknowledgement count is nonzero only while an asset is held, and an
// asset stays held with a zero count until PostStep retires it.
type Swapper struct {
	slot         int
	active       []uint32 // shared partition, mutated only in StartSwap
	inactive     []uint32
	loader       *Loader
	ds           *dataset.Dataset
	envsPerScene int32

	pending     *oneshot.Future[*Asset]
	ready       *Asset
	outstanding atomic.Int32

	swaps atomic.Uint64
}

// NewSwapper wires slot i of the shared active/inactive partition to its
// loader. The swapper starts Idle; the engine arms the first swap once
// the groups exist.
func NewSwapper(slot int, active, inactive []uint32, ds *dataset.Dataset, loader *Loader, envsPerScene int) *Swapper {
	return &Swapper{
		slot:         slot,
		active:       active,
		inactive:     inactive,
		loader:       loader,
		ds:           ds,
		envsPerScene: int32(envsPerScene),
	}
}

// StartSwap selects a uniform replacement from the inactive list,
// exchanges it into this swapper's active slot, and kicks off the
// background load. Idle -> Loading.
func (s *Swapper) StartSwap(rng *rand.Rand) {
	if s.pending != nil || s.ready != nil {
		panic("scene: StartSwap while a swap is in flight")
	}

	j := rng.Intn(len(s.inactive))
	s.inactive[j], s.active[s.slot] = s.active[s.slot], s.inactive[j]

	s.pending = s.loader.LoadAsync(s.ds.ScenePath(s.active[s.slot]))
}

// PreStep promotes a completed load before workers are released.
// Loading -> Ready.
func (s *Swapper) PreStep() {
	if s.pending == nil {
		return
	}
	if asset, ok := s.pending.TryTake(); ok {
		s.pending = nil
		s.ready = asset
		s.outstanding.Store(s.envsPerScene)
	}
}

// PostStep retires a fully acknowledged asset and immediately re-arms
// the next swap, keeping a replacement always warming.
// Draining(0) -> Idle -> Loading.
func (s *Swapper) PostStep(rng *rand.Rand) {
	if s.ready == nil || s.outstanding.Load() != 0 {
		return
	}
	s.ready.Release()
	s.ready = nil
	s.swaps.Add(1)
	s.StartSwap(rng)
}

// ReadyAsset is non-nil while per-env acknowledgements are pending.
// Worker side; read-only.
func (s *Swapper) ReadyAsset() *Asset { return s.ready }

// CurrentScene is the dataset scene index currently in this active slot.
func (s *Swapper) CurrentScene() uint32 { return s.active[s.slot] }

// Ack records one environment's swap acknowledgement.
func (s *Swapper) Ack() {
	if s.outstanding.Add(-1) < 0 {
		panic("scene: swap over-acknowledged")
	}
}

// State derives the lifecycle phase, for tests.
func (s *Swapper) State() State {
	switch {
	case s.pending != nil:
		return Loading
	case s.ready == nil:
		return Idle
	case s.outstanding.Load() == s.envsPerScene:
		return Ready
	default:
		return Draining
	}
}

// CompletedSwaps counts fully drained swaps since construction.
func (s *Swapper) CompletedSwaps() uint64 { return s.swaps.Load() }

// Drain releases whatever the swap pipeline still holds: the resident
// asset, or the in-flight load's result. The loader must already be
// closed so the pending future is guaranteed resolved.
func (s *Swapper) Drain() {
	if s.pending != nil {
		s.pending.Wait().Release()
		s.pending = nil
	}
	if s.ready != nil {
		s.ready.Release()
		s.ready = nil
	}
	s.outstanding.Store(0)
}
