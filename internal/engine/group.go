package engine

import (
	"golang.org/x/exp/rand"

	"navrollout.ai/internal/dataset"
	"navrollout.ai/internal/render"
	"navrollout.ai/internal/scene"
	"navrollout.ai/internal/sim"
)

// Camera parameters for render env construction. Swapped-in envs use the
// tighter near plane the render pipeline expects after a scene change.
const (
	cameraFOV  = 90.0
	cameraNear = 0.1
	cameraFar  = 1000.0
	swapNear   = 0.01
)

// bindingToken snapshots the active-scene id an env was built against.
// The env is consistent while the snapshot matches its swapper's current
// slot value; a mismatch is the signal to swap after the next terminal
// transition.
type bindingToken struct {
	swapper *scene.Swapper
	cur     uint32
}

func (t *bindingToken) consistent() bool {
	return t.cur == t.swapper.CurrentScene()
}

// Group is a contiguous bank of environments rendered as one GPU batch:
// render env handles, agent states, binding tokens, per-env scene
// references, and the result buffers, all laid out by env index.
type Group struct {
	index  int
	stream render.CommandStream
	ds     *dataset.Dataset

	renderEnvs []render.Environment
	agents     []sim.Agent
	tokens     []bindingToken
	assets     []*scene.Asset
	rngs       []*rand.Rand

	results  *sim.Results
	swappers []*scene.Swapper
}

// newGroup eagerly instantiates envsPerScene environments for every
// swapper slot, loading each initial scene synchronously through that
// slot's loader. seedBase offsets the per-env RNG streams.
func newGroup(index int, stream render.CommandStream, loaders []*scene.Loader,
	ds *dataset.Dataset, swappers []*scene.Swapper, envsPerScene int, seedBase uint64) *Group {

	n := envsPerScene * len(swappers)
	g := &Group{
		index:      index,
		stream:     stream,
		ds:         ds,
		renderEnvs: make([]render.Environment, 0, n),
		agents:     make([]sim.Agent, 0, n),
		tokens:     make([]bindingToken, 0, n),
		assets:     make([]*scene.Asset, 0, n),
		rngs:       make([]*rand.Rand, 0, n),
		results:    sim.NewResults(n),
		swappers:   swappers,
	}

	for si, sw := range swappers {
		sceneIdx := sw.CurrentScene()
		asset := loaders[si].Load(ds.ScenePath(sceneIdx))
		episodes := ds.Episodes(sceneIdx)

		for e := 0; e < envsPerScene; e++ {
			idx := len(g.agents)
			env := stream.MakeEnvironment(asset.Handle(), cameraFOV, cameraNear, cameraFar)
			rng := rand.New(rand.NewSource(envSeed(seedBase, index, idx)))

			g.renderEnvs = append(g.renderEnvs, env)
			g.rngs = append(g.rngs, rng)
			g.agents = append(g.agents, sim.NewAgent(episodes, env, g.results.Slot(idx), rng))
			g.tokens = append(g.tokens, bindingToken{swapper: sw, cur: sceneIdx})
			g.assets = append(g.assets, asset.Retain())
		}

		asset.Release()
	}

	return g
}

// envSeed derives a per-env RNG stream so episode selection does not
// depend on which worker claims the env.
func envSeed(seed uint64, group, env int) uint64 {
	x := seed + uint64(group)<<32 + uint64(env) + 1
	x *= 0x9e3779b97f4a7c15
	x ^= x >> 29
	return x
}

// Agent returns env idx's simulator state.
func (g *Group) Agent(idx int) *sim.Agent { return &g.agents[idx] }

// SceneOf reports the dataset scene index env idx is bound to.
func (g *Group) SceneOf(idx int) uint32 { return g.tokens[idx].cur }

// NumEnvs reports the env count of the group.
func (g *Group) NumEnvs() int { return len(g.agents) }

// Results exposes the group's output buffers.
func (g *Group) Results() *sim.Results { return g.results }

// SwapReady reports whether env idx should swap on its next terminal
// transition: its swapper holds a resident replacement and the env's
// binding is stale.
func (g *Group) SwapReady(idx int) bool {
	t := &g.tokens[idx]
	return t.swapper.ReadyAsset() != nil && !t.consistent()
}

// SwapEnv rebinds env idx to its swapper's resident asset: new render
// env, refreshed binding token, new agent state over the new scene's
// episodes, and one acknowledgement to the swapper. Call only right
// after a terminal transition in this env.
func (g *Group) SwapEnv(idx int) {
	t := &g.tokens[idx]
	asset := t.swapper.ReadyAsset()

	g.assets[idx].Release()
	g.assets[idx] = asset.Retain()

	g.renderEnvs[idx] = g.stream.MakeEnvironment(asset.Handle(), cameraFOV, swapNear, cameraFar)
	t.cur = t.swapper.CurrentScene()

	g.agents[idx] = sim.NewAgent(g.ds.Episodes(t.cur), g.renderEnvs[idx], g.results.Slot(idx), g.rngs[idx])
	t.swapper.Ack()
}

// Render submits the group's batch. Non-blocking.
func (g *Group) Render() {
	g.stream.Render(g.index, g.renderEnvs)
}

// release drops every per-env scene reference.
func (g *Group) release() {
	for _, a := range g.assets {
		a.Release()
	}
	g.assets = nil
}
