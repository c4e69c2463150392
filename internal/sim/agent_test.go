package sim

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/rand"

	"navrollout.ai/internal/dataset"
	"navrollout.ai/internal/nav"
)

type fakeEnv struct {
	view mgl32.Mat4
	sets int
}

func (e *fakeEnv) SetCameraView(v mgl32.Mat4) {
	e.view = v
	e.sets++
}

// newTestAgent binds one agent to a single episode: start at the origin
// facing -z, goal straight ahead at the given z.
func newTestAgent(t *testing.T, goalZ float32) (*Agent, *Results, *fakeEnv, nav.Pathfinder) {
	t.Helper()

	episodes := []dataset.Episode{{
		StartPosition: mgl32.Vec3{0, 0, 0},
		StartRotation: mgl32.QuatIdent(),
		Goal:          mgl32.Vec3{0, 0, goalZ},
	}}
	results := NewResults(1)
	env := &fakeEnv{}
	rng := rand.New(rand.NewSource(1))

	agent := NewAgent(episodes, env, results.Slot(0), rng)
	pf := (&nav.PlaneMesh{}).NewPathfinder()
	agent.Reset(pf)
	return &agent, results, env, pf
}

func approx(got, want, tol float32) bool {
	return math.Abs(float64(got-want)) <= float64(tol)
}

func TestResetPlacesAgentAtEpisodeStart(t *testing.T) {
	a, r, env, _ := newTestAgent(t, -2)

	if a.Position() != (mgl32.Vec3{0, 0, 0}) {
		t.Fatalf("position = %v", a.Position())
	}
	if a.StepCount() != 1 {
		t.Fatalf("step = %d, want 1", a.StepCount())
	}
	if env.sets == 0 {
		t.Fatalf("reset did not install a camera view")
	}
	// Goal dead ahead: rho = distance, phi = 0.
	if p := r.Polars[0]; !approx(p[0], 2, 1e-5) || !approx(p[1], 0, 1e-5) {
		t.Fatalf("polar = %v, want [2 0]", p)
	}
}

func TestForwardMovesAndRewardsProgress(t *testing.T) {
	a, r, _, pf := newTestAgent(t, -2)

	done := a.Step(ActionForward, pf)
	if done {
		t.Fatalf("forward terminated the episode")
	}

	if !approx(a.Position().Z(), -0.25, 1e-5) {
		t.Fatalf("position.z = %v, want -0.25", a.Position().Z())
	}
	// Progress of one step length minus slack.
	if !approx(r.Rewards[0], ForwardStep-SlackReward, 1e-5) {
		t.Fatalf("reward = %v, want %v", r.Rewards[0], ForwardStep-SlackReward)
	}
	if r.Masks[0] != 1 {
		t.Fatalf("mask = %d, want 1", r.Masks[0])
	}
	if !approx(r.Infos[0].DistanceToGoal, 1.75, 1e-5) {
		t.Fatalf("distance = %v, want 1.75", r.Infos[0].DistanceToGoal)
	}
}

func TestStopAtGoalSucceedsWithFullSPL(t *testing.T) {
	a, r, _, pf := newTestAgent(t, -2)

	for i := 0; i < 8; i++ {
		if a.Step(ActionForward, pf) {
			t.Fatalf("terminated early at step %d", i)
		}
	}
	done := a.Step(ActionStop, pf)
	if !done {
		t.Fatalf("stop did not terminate")
	}

	info := r.Infos[0]
	if info.Success != 1 {
		t.Fatalf("success = %v, want 1", info.Success)
	}
	// Straight-line path: travelled exactly the initial distance.
	if !approx(info.SPL, 1, 1e-5) {
		t.Fatalf("spl = %v, want 1", info.SPL)
	}
	if !approx(r.Rewards[0], SuccessReward-SlackReward, 1e-5) {
		t.Fatalf("reward = %v, want %v", r.Rewards[0], SuccessReward-SlackReward)
	}
	if r.Masks[0] != 0 {
		t.Fatalf("mask = %d, want 0", r.Masks[0])
	}
}

func TestStopFarFromGoalFails(t *testing.T) {
	a, r, _, pf := newTestAgent(t, -2)

	if done := a.Step(ActionStop, pf); !done {
		t.Fatalf("stop did not terminate")
	}
	info := r.Infos[0]
	if info.Success != 0 || info.SPL != 0 {
		t.Fatalf("info = %+v, want failure", info)
	}
	if !approx(r.Rewards[0], -SlackReward, 1e-6) {
		t.Fatalf("reward = %v, want %v", r.Rewards[0], -SlackReward)
	}
}

func TestStopExactlyAtRadiusFails(t *testing.T) {
	a, r, _, pf := newTestAgent(t, -SuccessDistance)

	if done := a.Step(ActionStop, pf); !done {
		t.Fatalf("stop did not terminate")
	}
	// The success radius is strict: d == SuccessDistance is a miss.
	if r.Infos[0].Success != 0 {
		t.Fatalf("success at exact radius, want failure")
	}
}

func TestTurnHoldsDistanceAndRotates(t *testing.T) {
	a, r, _, pf := newTestAgent(t, -2)

	if done := a.Step(ActionTurnLeft, pf); done {
		t.Fatalf("turn terminated the episode")
	}
	if !approx(r.Rewards[0], -SlackReward, 1e-6) {
		t.Fatalf("reward = %v, want %v", r.Rewards[0], -SlackReward)
	}
	if !approx(r.Infos[0].DistanceToGoal, 2, 1e-5) {
		t.Fatalf("distance = %v, want 2", r.Infos[0].DistanceToGoal)
	}

	// Eight more left turns: 90 degrees total, now facing -x.
	for i := 0; i < 8; i++ {
		a.Step(ActionTurnLeft, pf)
	}
	a.Step(ActionForward, pf)
	if !approx(a.Position().X(), -0.25, 1e-4) || !approx(a.Position().Z(), 0, 1e-4) {
		t.Fatalf("position = %v, want [-0.25 0 0]", a.Position())
	}
}

func TestPolarTracksHeading(t *testing.T) {
	a, r, _, pf := newTestAgent(t, -2)

	// Face -x; the goal (still at -z) is now 90 degrees to the right.
	for i := 0; i < 9; i++ {
		a.Step(ActionTurnLeft, pf)
	}
	p := r.Polars[0]
	if !approx(p[0], 2, 1e-4) {
		t.Fatalf("rho = %v, want 2", p[0])
	}
	if !approx(p[1], -float32(math.Pi/2), 1e-3) {
		t.Fatalf("phi = %v, want %v", p[1], -math.Pi/2)
	}
}

func TestEpisodeTimesOut(t *testing.T) {
	a, r, _, pf := newTestAgent(t, -1000)

	var done bool
	steps := 0
	for !done {
		done = a.Step(ActionTurnLeft, pf)
		steps++
		if steps > MaxSteps {
			t.Fatalf("episode did not time out")
		}
	}
	if steps != MaxSteps-1 {
		t.Fatalf("terminated after %d steps, want %d", steps, MaxSteps-1)
	}
	if r.Masks[0] != 0 {
		t.Fatalf("mask = %d, want 0", r.Masks[0])
	}
	if r.Infos[0].Success != 0 {
		t.Fatalf("timeout counted as success")
	}
}

func TestSPLPenalizesDetours(t *testing.T) {
	a, r, _, pf := newTestAgent(t, -1)

	// Reach the goal, overshoot backwards by one step, and return.
	for i := 0; i < 4; i++ {
		a.Step(ActionForward, pf)
	}
	for i := 0; i < 18; i++ {
		a.Step(ActionTurnRight, pf)
	}
	a.Step(ActionForward, pf)
	for i := 0; i < 18; i++ {
		a.Step(ActionTurnRight, pf)
	}
	a.Step(ActionForward, pf)

	if done := a.Step(ActionStop, pf); !done {
		t.Fatalf("stop did not terminate")
	}
	info := r.Infos[0]
	if info.Success != 1 {
		t.Fatalf("success = %v (distance %v)", info.Success, info.DistanceToGoal)
	}
	// Shortest path 1.0, travelled 1.5.
	if !approx(info.SPL, 1.0/1.5, 1e-2) {
		t.Fatalf("spl = %v, want %v", info.SPL, 1.0/1.5)
	}
}

func TestResetAfterTermination(t *testing.T) {
	a, _, _, pf := newTestAgent(t, -2)

	a.Step(ActionForward, pf)
	a.Step(ActionStop, pf)

	a.Reset(pf)
	if a.Position() != (mgl32.Vec3{0, 0, 0}) {
		t.Fatalf("position after reset = %v", a.Position())
	}
	if a.StepCount() != 1 {
		t.Fatalf("step after reset = %d, want 1", a.StepCount())
	}
	if a.TravelDistance() != 0 {
		t.Fatalf("travel after reset = %v, want 0", a.TravelDistance())
	}
}

func TestEpisodeSelectionIsSeedDeterministic(t *testing.T) {
	episodes := make([]dataset.Episode, 8)
	for i := range episodes {
		episodes[i] = dataset.Episode{
			StartPosition: mgl32.Vec3{float32(i), 0, 0},
			StartRotation: mgl32.QuatIdent(),
			Goal:          mgl32.Vec3{float32(i), 0, -2},
		}
	}
	pf := (&nav.PlaneMesh{}).NewPathfinder()

	run := func(seed uint64) []float32 {
		results := NewResults(1)
		a := NewAgent(episodes, &fakeEnv{}, results.Slot(0), rand.New(rand.NewSource(seed)))
		var xs []float32
		for i := 0; i < 16; i++ {
			a.Reset(pf)
			xs = append(xs, a.Position().X())
		}
		return xs
	}

	a, b := run(9), run(9)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("episode %d diverged: %v vs %v", i, a[i], b[i])
		}
	}
}
