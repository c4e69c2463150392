// Package sim implements the per-environment agent state machine: reset,
// discrete-action stepping, reward and SPL computation, and the camera /
// polar-goal observation written into the shared result buffers.
package sim

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/rand"

	"navrollout.ai/internal/dataset"
	"navrollout.ai/internal/nav"
	"navrollout.ai/internal/render"
)

// Action is the discrete action alphabet shared with the training loop.
type Action int64

const (
	ActionStop Action = iota
	ActionForward
	ActionTurnLeft
	ActionTurnRight
)

const (
	// MaxSteps bounds an episode; reaching it forces termination.
	MaxSteps = 500
	// SuccessDistance is the stop-within radius, strict less-than.
	SuccessDistance = 0.2
	// SlackReward is subtracted every step.
	SlackReward = 0.01
	// SuccessReward scales the SPL-weighted terminal bonus.
	SuccessReward = 2.5
	// ForwardStep is the camera -z translation per Forward action.
	ForwardStep = 0.25
	// EyeHeight lifts the camera above the agent position along +y.
	EyeHeight = 1.25
)

// TurnAngle is the yaw per turn action, radians about world-up (+y).
var TurnAngle = float32(mgl32.DegToRad(10))

var worldUp = mgl32.Vec3{0, 1, 0}

// Turns compose on the right: rotation = rotation * turn. TurnLeft is
// +TurnAngle about +y (counter-clockwise seen from above).
var (
	leftTurn  = mgl32.QuatRotate(TurnAngle, worldUp)
	rightTurn = mgl32.QuatRotate(-TurnAngle, worldUp)
)

// Agent is one environment's simulation state. All mutation happens on
// whichever worker claimed the env this iteration; the engine's hand-off
// protocol orders those accesses.
type Agent struct {
	episodes  []dataset.Episode
	renderEnv render.Environment
	out       Slot
	rng       *rand.Rand

	position mgl32.Vec3
	rotation mgl32.Quat
	goal     mgl32.Vec3

	navPosition nav.Point
	navGoal     nav.Point

	initialDistanceToGoal    float32
	prevDistanceToGoal       float32
	cumulativeTravelDistance float32
	step                     uint32
}

// NewAgent binds an agent to a scene's episode span, its render env, and
// its result slot. rng drives episode selection and must be private to
// this env so rollouts stay deterministic under work stealing.
func NewAgent(episodes []dataset.Episode, env render.Environment, out Slot, rng *rand.Rand) Agent {
	if len(episodes) == 0 {
		panic("sim: agent constructed with no episodes")
	}
	return Agent{
		episodes:  episodes,
		renderEnv: env,
		out:       out,
		rng:       rng,
	}
}

// Reset samples a fresh episode uniformly (with replacement) and places
// the agent at its start pose.
func (a *Agent) Reset(pf nav.Pathfinder) {
	ep := &a.episodes[a.rng.Intn(len(a.episodes))]

	a.step = 1
	a.position = ep.StartPosition
	a.rotation = ep.StartRotation
	a.goal = ep.Goal

	a.navGoal = pf.SnapPoint(a.goal)
	a.navPosition = pf.SnapPoint(a.position)

	a.cumulativeTravelDistance = 0
	a.initialDistanceToGoal = pf.GeodesicDistance(a.navPosition, a.navGoal)
	a.prevDistanceToGoal = a.initialDistanceToGoal

	a.updateObservation()
}

// Step advances one action and writes reward, mask, info, and (for
// non-stop actions) the refreshed observation into the result slot.
// Returns true when the episode terminated.
func (a *Agent) Step(action Action, pf nav.Pathfinder) bool {
	a.step++
	done := a.step >= MaxSteps
	reward := float32(-SlackReward)

	var success float32
	var distanceToGoal float32

	switch action {
	case ActionStop:
		done = true
		distanceToGoal = pf.GeodesicDistance(a.navGoal, a.navPosition)
		if distanceToGoal < SuccessDistance {
			success = 1
		}
		reward += SuccessReward * a.spl(success)

	case ActionForward:
		prev := a.position
		delta := a.rotation.Rotate(mgl32.Vec3{0, 0, -ForwardStep})
		a.navPosition = pf.TryStep(a.navPosition, a.position.Add(delta))
		a.position = a.navPosition.Pos

		a.updateObservation()

		distanceToGoal = pf.GeodesicDistance(a.navGoal, a.navPosition)
		reward += a.prevDistanceToGoal - distanceToGoal
		a.cumulativeTravelDistance += a.position.Sub(prev).Len()
		a.prevDistanceToGoal = distanceToGoal

	case ActionTurnLeft, ActionTurnRight:
		if action == ActionTurnLeft {
			a.rotation = a.rotation.Mul(leftTurn)
		} else {
			a.rotation = a.rotation.Mul(rightTurn)
		}
		a.updateObservation()

		// Pure yaw cannot change the geodesic; skip the query.
		distanceToGoal = a.prevDistanceToGoal

	default:
		panic(fmt.Sprintf("sim: unknown action %d", int64(action)))
	}

	*a.out.Reward = reward
	if done {
		*a.out.Mask = 0
	} else {
		*a.out.Mask = 1
	}
	*a.out.Info = StepInfo{
		Success:        success,
		SPL:            a.spl(success),
		DistanceToGoal: distanceToGoal,
	}

	return done
}

func (a *Agent) spl(success float32) float32 {
	denom := a.initialDistanceToGoal
	if a.cumulativeTravelDistance > denom {
		denom = a.cumulativeTravelDistance
	}
	if denom == 0 {
		return success
	}
	return success * a.initialDistanceToGoal / denom
}

// updateObservation installs the world-to-camera matrix on the render
// env and writes the goal's polar coordinates in the camera frame.
func (a *Agent) updateObservation() {
	invRot := a.rotation.Inverse()
	rot3 := invRot.Mat4()

	eye := a.position.Add(worldUp.Mul(EyeHeight))
	trans := invRot.Rotate(eye.Mul(-1))

	view := rot3
	view.SetCol(3, mgl32.Vec4{trans.X(), trans.Y(), trans.Z(), 1})
	a.renderEnv.SetCameraView(view)

	toGoal := invRot.Rotate(a.goal.Sub(a.position))
	rho := float32(math.Hypot(float64(toGoal.X()), float64(toGoal.Z())))
	phi := float32(math.Atan2(float64(toGoal.X()), float64(-toGoal.Z())))
	*a.out.Polar = [2]float32{rho, -phi}
}

// StepCount reports the current intra-episode step counter.
func (a *Agent) StepCount() uint32 { return a.step }

// Position reports the agent's world position.
func (a *Agent) Position() mgl32.Vec3 { return a.position }

// Rotation reports the agent's world orientation.
func (a *Agent) Rotation() mgl32.Quat { return a.rotation }

// TravelDistance reports cumulative Euclidean travel this episode.
func (a *Agent) TravelDistance() float32 { return a.cumulativeTravelDistance }
