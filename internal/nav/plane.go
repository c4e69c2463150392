package nav

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PlaneMesh is a flat walkable rectangle at a fixed height, optionally
// unbounded. It stands in for a real navmesh in tests and CPU-only runs:
// every pair of points is reachable and the geodesic is the straight
// line between them.
type PlaneMesh struct {
	Floor   float32
	Min     mgl32.Vec2 // xz, ignored when Bounded is false
	Max     mgl32.Vec2
	Bounded bool
}

// NewPathfinder implements Mesh.
func (m *PlaneMesh) NewPathfinder() Pathfinder {
	return &planePathfinder{mesh: m}
}

type planePathfinder struct {
	mesh *PlaneMesh
}

func (p *planePathfinder) SnapPoint(v mgl32.Vec3) Point {
	m := p.mesh
	x, z := v.X(), v.Z()
	if m.Bounded {
		x = clamp(x, m.Min.X(), m.Max.X())
		z = clamp(z, m.Min.Y(), m.Max.Y())
	}
	return Point{Pos: mgl32.Vec3{x, m.Floor, z}}
}

func (p *planePathfinder) GeodesicDistance(a, b Point) float32 {
	dx := float64(a.Pos.X() - b.Pos.X())
	dz := float64(a.Pos.Z() - b.Pos.Z())
	return float32(math.Sqrt(dx*dx + dz*dz))
}

func (p *planePathfinder) TryStep(from Point, to mgl32.Vec3) Point {
	return p.SnapPoint(to)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
