// Package nav defines the navigation-mesh query surface the rollout core
// needs from an external navmesh library, and ships a built-in open-area
// mesh used by tests and the CPU benchmark driver.
//
// Query state is not thread-safe: a Mesh is immutable and shared, while
// each thread mints its own Pathfinder from it.
package nav

import "github.com/go-gl/mathgl/mgl32"

// Point is a navmesh-snapped location. Ref identifies the containing
// polygon for libraries that track one; the built-in mesh leaves it 0.
type Point struct {
	Pos mgl32.Vec3
	Ref uint32
}

// Mesh is an immutable loaded navigation mesh.
type Mesh interface {
	// NewPathfinder mints a query handle with private scratch state.
	// Call once per thread.
	NewPathfinder() Pathfinder
}

// Pathfinder answers snap and shortest-path queries against one Mesh.
// Not safe for concurrent use.
type Pathfinder interface {
	// SnapPoint projects p onto the nearest walkable surface.
	SnapPoint(p mgl32.Vec3) Point

	// GeodesicDistance is the shortest on-mesh path length between two
	// snapped points. Unreachable pairs report +Inf.
	GeodesicDistance(a, b Point) float32

	// TryStep attempts to move from a snapped point toward to, sliding
	// along obstructions, and returns the point actually reached.
	TryStep(from Point, to mgl32.Vec3) Point
}
