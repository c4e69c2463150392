// Package engine runs the batched rollout loop: a pool of pinned
// workers advances every environment of one group per iteration,
// hand-off is a single-bit generation latch plus a fetch-add work
// counter, and scene swaps ride the same iteration boundaries so the
// step loop never blocks on a load.
package engine

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/rand"

	"navrollout.ai/internal/affinity"
	"navrollout.ai/internal/config"
	"navrollout.ai/internal/dataset"
	"navrollout.ai/internal/nav"
	"navrollout.ai/internal/render"
	"navrollout.ai/internal/scene"
	"navrollout.ai/internal/sim"
	"navrollout.ai/internal/telemetry"
)

// Options carries optional collaborators the config file does not
// describe.
type Options struct {
	// Recorder, when non-nil, receives every finished episode.
	Recorder *telemetry.Recorder

	// LoadSpacing overrides the minimum delay between scene loads.
	// Zero keeps scene.DefaultLoadSpacing; tests pass a negative
	// value to disable spacing entirely.
	LoadSpacing time.Duration
}

// Engine owns the environment groups, the worker pool, and the swap
// pipeline. The caller's thread doubles as worker zero: StepStart
// publishes an iteration and releases the pool, StepEnd joins the work
// and drains the finish counter. All exported methods are main-thread
// only.
type Engine struct {
	cfg config.Config
	log *log.Logger

	ds      *dataset.Dataset
	backend render.Backend
	stream  render.CommandStream
	loaders []*scene.Loader

	// meshes is indexed by dataset scene id; workers build private
	// pathfinders over these shared read-only meshes.
	meshes []nav.Mesh

	active   []uint32
	inactive []uint32
	swappers []*scene.Swapper
	groups   []*Group

	rng *rand.Rand

	numWorkers   int
	envsPerGroup int
	envsPerScene int

	// Iteration hand-off. The latch toggle publishes activeGroup,
	// activeActions, and simReset; the finished counter reaching
	// numWorkers+1 publishes the results back.
	start         genLatch
	nextEnv       atomic.Uint32
	finished      atomic.Uint32
	activeGroup   int
	activeActions []int64
	simReset      bool
	exit          bool

	// pendingGroup is the group between StepStart and StepEnd, or -1.
	pendingGroup int

	mainPFs []nav.Pathfinder
	wg      sync.WaitGroup

	iterations atomic.Uint64
	episodes   atomic.Uint64

	// activeSnapshot mirrors the active partition for Stats, which may
	// be read from other goroutines while StartSwap mutates active.
	activeSnapshot []atomic.Uint32

	recorder *telemetry.Recorder
}

// New builds the engine: dataset, nav meshes, active-scene partition,
// render stream, loaders, swappers, and groups, then starts the worker
// pool. The first swap for every slot is armed before return so a
// replacement is always warming.
func New(cfg config.Config, backend render.Backend, logger *log.Logger, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	workers := cfg.Workers
	if workers == -1 {
		workers = runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
	}

	ds, err := dataset.Load(cfg.DatasetPath, cfg.AssetPath, backend.MeshExtension(), workers)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	if ds.NumScenes() <= cfg.ActiveScenes {
		return nil, fmt.Errorf("dataset has %d scenes, need more than active_scenes (%d) so swaps have somewhere to go",
			ds.NumScenes(), cfg.ActiveScenes)
	}

	meshes := make([]nav.Mesh, ds.NumScenes())
	for i := range meshes {
		m, err := nav.LoadMesh(ds.NavmeshPath(uint32(i)))
		if err != nil {
			return nil, fmt.Errorf("navmesh for scene %d: %w", i, err)
		}
		meshes[i] = m
	}

	e := &Engine{
		cfg:          cfg,
		log:          logger,
		ds:           ds,
		backend:      backend,
		meshes:       meshes,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		numWorkers:   workers,
		envsPerGroup: cfg.Environments / cfg.NumGroups(),
		pendingGroup: -1,
		recorder:     opts.Recorder,
	}
	e.envsPerScene = cfg.Environments / cfg.ActiveScenes
	e.active, e.inactive = partitionScenes(ds.NumScenes(), cfg.ActiveScenes, e.rng)

	e.activeSnapshot = make([]atomic.Uint32, cfg.ActiveScenes)
	for i, s := range e.active {
		e.activeSnapshot[i].Store(s)
	}

	if cfg.PinThreads {
		affinity.Pin(0)
	}

	e.stream = backend.MakeCommandStream(render.Config{
		GPUID:          cfg.GPUID,
		BatchSize:      e.envsPerGroup,
		Height:         cfg.Resolution[0],
		Width:          cfg.Resolution[1],
		Color:          cfg.Color,
		Depth:          cfg.Depth,
		DoubleBuffered: cfg.DoubleBuffered,
	})

	spacing := scene.DefaultLoadSpacing
	if opts.LoadSpacing > 0 {
		spacing = opts.LoadSpacing
	} else if opts.LoadSpacing < 0 {
		spacing = 0
	}
	e.loaders = make([]*scene.Loader, cfg.ActiveScenes)
	for i := range e.loaders {
		core := -1
		if cfg.PinThreads {
			// Loaders live on the top cores, away from the workers.
			core = runtime.NumCPU() - 1 - i
		}
		e.loaders[i] = scene.NewLoader(backend.MakeLoader(), core, spacing, logger)
	}

	e.swappers = make([]*scene.Swapper, cfg.ActiveScenes)
	for i := range e.swappers {
		e.swappers[i] = scene.NewSwapper(i, e.active, e.inactive, ds, e.loaders[i], e.envsPerScene)
	}

	scenesPerGroup := cfg.ActiveScenes / cfg.NumGroups()
	e.groups = make([]*Group, cfg.NumGroups())
	for i := range e.groups {
		e.groups[i] = newGroup(i, e.stream,
			e.loaders[i*scenesPerGroup:(i+1)*scenesPerGroup],
			ds,
			e.swappers[i*scenesPerGroup:(i+1)*scenesPerGroup],
			e.envsPerScene, cfg.Seed)
	}

	// Arm every slot so the first replacement is already loading while
	// the caller resets.
	for _, sw := range e.swappers {
		sw.StartSwap(e.rng)
	}

	e.mainPFs = e.makePathfinders()

	// The counter idles at numWorkers+1: the pool plus the caller, all
	// checked in.
	e.finished.Store(uint32(workers) + 1)

	e.wg.Add(workers)
	for w := 0; w < workers; w++ {
		go e.workerLoop(w)
	}

	logger.Printf("engine: %d envs, %d active scenes, %d groups, %d workers",
		cfg.Environments, cfg.ActiveScenes, cfg.NumGroups(), workers)
	return e, nil
}

// partitionScenes draws numActive scene ids uniformly without
// replacement via a single reservoir pass and returns the chosen and
// remaining ids.
func partitionScenes(numScenes, numActive int, rng *rand.Rand) (active, inactive []uint32) {
	active = make([]uint32, 0, numActive)
	inactive = make([]uint32, 0, numScenes-numActive)
	for i := 0; i < numScenes; i++ {
		if rng.Float64()*float64(numScenes-i) < float64(numActive-len(active)) {
			active = append(active, uint32(i))
		} else {
			inactive = append(inactive, uint32(i))
		}
	}
	return active, inactive
}

func (e *Engine) makePathfinders() []nav.Pathfinder {
	pfs := make([]nav.Pathfinder, len(e.meshes))
	for i, m := range e.meshes {
		pfs[i] = m.NewPathfinder()
	}
	return pfs
}

func (e *Engine) workerLoop(w int) {
	defer e.wg.Done()

	if e.cfg.PinThreads {
		// Core 0 is the caller's; loaders take the top of the set.
		workerCores := runtime.NumCPU() - 1 - len(e.loaders)
		if workerCores < 1 {
			workerCores = 1
		}
		affinity.Pin(1 + w%workerCores)
	}

	pfs := e.makePathfinders()

	var expected uint32 = 1
	for {
		e.start.wait(expected)
		expected ^= 1
		if e.exit {
			return
		}
		e.runIteration(pfs)
	}
}

// runIteration claims environments off the shared counter until the
// group is exhausted, then checks in on the finish counter. Returns the
// post-increment counter value so the caller can tell whether it was
// the last finisher.
func (e *Engine) runIteration(pfs []nav.Pathfinder) uint32 {
	g := e.groups[e.activeGroup]
	n := uint32(g.NumEnvs())
	for {
		idx := e.nextEnv.Add(1) - 1
		if idx >= n {
			break
		}
		e.advanceEnv(g, int(idx), pfs)
	}
	return e.finished.Add(1)
}

// advanceEnv resets or steps one environment. A terminal transition is
// the only point an env may rebind to a newly resident scene, so the
// old episode's results are written against the old scene before the
// swap.
func (e *Engine) advanceEnv(g *Group, idx int, pfs []nav.Pathfinder) {
	agent := g.Agent(idx)
	pf := pfs[g.SceneOf(idx)]

	if e.simReset {
		agent.Reset(pf)
		return
	}

	done := agent.Step(sim.Action(e.activeActions[idx]), pf)
	if !done {
		return
	}

	e.episodes.Add(1)
	if e.recorder != nil {
		info := g.Results().Infos[idx]
		e.recorder.RecordEpisode(telemetry.Episode{
			Scene:          g.SceneOf(idx),
			Success:        info.Success,
			SPL:            info.SPL,
			DistanceToGoal: info.DistanceToGoal,
			Steps:          uint32(agent.StepCount()),
		})
	}

	if g.SwapReady(idx) {
		g.SwapEnv(idx)
		agent = g.Agent(idx)
		pf = pfs[g.SceneOf(idx)]
	}
	agent.Reset(pf)
}

// startIteration publishes one iteration's inputs and releases the
// pool. actions is nil for a reset pass.
func (e *Engine) startIteration(group int, actions []int64, reset bool) {
	if e.pendingGroup != -1 {
		panic("engine: iteration already in flight")
	}
	if e.finished.Load() != uint32(e.numWorkers)+1 {
		panic("engine: workers still running")
	}
	if group < 0 || group >= len(e.groups) {
		panic(fmt.Sprintf("engine: group %d out of range", group))
	}
	if !reset && len(actions) != e.envsPerGroup {
		panic(fmt.Sprintf("engine: got %d actions, group has %d envs", len(actions), e.envsPerGroup))
	}

	// Promote any finished loads before workers can observe SwapReady.
	scenesPerGroup := e.cfg.ActiveScenes / e.cfg.NumGroups()
	for _, sw := range e.swappers[group*scenesPerGroup : (group+1)*scenesPerGroup] {
		sw.PreStep()
	}

	e.activeGroup = group
	e.activeActions = actions
	e.simReset = reset
	e.pendingGroup = group

	e.nextEnv.Store(0)
	e.finished.Store(0)
	e.start.toggle()
}

// finishIteration joins the iteration as the final worker and retires
// fully drained swaps.
func (e *Engine) finishIteration(group int) {
	if e.pendingGroup != group {
		panic(fmt.Sprintf("engine: finishing group %d but group %d is pending", group, e.pendingGroup))
	}

	if v := e.runIteration(e.mainPFs); v != uint32(e.numWorkers)+1 {
		awaitValue(&e.finished, uint32(e.numWorkers)+1)
	}

	scenesPerGroup := e.cfg.ActiveScenes / e.cfg.NumGroups()
	for i := group * scenesPerGroup; i < (group+1)*scenesPerGroup; i++ {
		e.swappers[i].PostStep(e.rng)
		e.activeSnapshot[i].Store(e.swappers[i].CurrentScene())
	}

	e.pendingGroup = -1
	e.iterations.Add(1)
}

// Reset runs a reset pass over every env in group and submits the
// first render.
func (e *Engine) Reset(group int) {
	e.startIteration(group, nil, true)
	e.finishIteration(group)
	e.groups[group].Render()
}

// StepStart begins a step over group with one action per env. Returns
// immediately; pair with StepEnd. Splitting the two lets a double
// buffered caller overlap this group's simulation with the other
// group's render readback.
func (e *Engine) StepStart(group int, actions []int64) {
	e.startIteration(group, actions, false)
}

// StepEnd joins the pool and completes the step started by StepStart.
func (e *Engine) StepEnd(group int) {
	e.finishIteration(group)
}

// Step is StepStart+StepEnd+Render for single-buffered callers.
func (e *Engine) Step(group int, actions []int64) {
	e.StepStart(group, actions)
	e.StepEnd(group)
	e.Render(group)
}

// Render submits group's batch to the render stream. Non-blocking.
func (e *Engine) Render(group int) {
	e.groups[group].Render()
}

// WaitForFrame blocks until group's most recent render is complete.
func (e *Engine) WaitForFrame(group int) {
	e.stream.WaitForFrame(group)
}

// NumGroups reports the group count.
func (e *Engine) NumGroups() int { return len(e.groups) }

// EnvsPerGroup reports the env count of each group.
func (e *Engine) EnvsPerGroup() int { return e.envsPerGroup }

// Rewards is group's per-env reward buffer, valid after StepEnd until
// the next StepStart for the group.
func (e *Engine) Rewards(group int) []float32 { return e.groups[group].Results().Rewards }

// Masks is group's per-env continuation mask buffer (0 terminal, 1
// continuing).
func (e *Engine) Masks(group int) []uint8 { return e.groups[group].Results().Masks }

// Infos is group's per-env episode info buffer.
func (e *Engine) Infos(group int) []sim.StepInfo { return e.groups[group].Results().Infos }

// Polars is group's per-env goal observation buffer.
func (e *Engine) Polars(group int) [][2]float32 { return e.groups[group].Results().Polars }

// ColorPtr exposes group's color output for zero-copy tensor import.
func (e *Engine) ColorPtr(group int) uintptr { return e.stream.ColorPtr(group) }

// DepthPtr exposes group's depth output for zero-copy tensor import.
func (e *Engine) DepthPtr(group int) uintptr { return e.stream.DepthPtr(group) }

// SemaphorePtr exposes group's render-complete semaphore.
func (e *Engine) SemaphorePtr(group int) uintptr { return e.stream.SemaphorePtr(group) }

// Stats is a point-in-time snapshot for dashboards. Safe to call from
// any goroutine.
type Stats struct {
	Iterations   uint64
	Episodes     uint64
	ActiveScenes []uint32
}

// Stats snapshots the iteration and episode counters and the active
// partition.
func (e *Engine) Stats() Stats {
	s := Stats{
		Iterations:   e.iterations.Load(),
		Episodes:     e.episodes.Load(),
		ActiveScenes: make([]uint32, len(e.activeSnapshot)),
	}
	for i := range e.activeSnapshot {
		s.ActiveScenes[i] = e.activeSnapshot[i].Load()
	}
	return s
}

// Close stops the pool, the loaders, and the backend. Must not be
// called between StepStart and StepEnd.
func (e *Engine) Close() {
	if e.pendingGroup != -1 {
		panic("engine: Close with an iteration in flight")
	}

	e.exit = true
	e.start.toggle()
	e.wg.Wait()

	for _, l := range e.loaders {
		l.Close()
	}
	// Every slot has either a resident asset or an in-flight load that
	// the loader finished before exiting.
	for _, sw := range e.swappers {
		sw.Drain()
	}
	for _, g := range e.groups {
		g.release()
	}
	e.backend.Close()
}
