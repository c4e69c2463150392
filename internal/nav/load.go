package nav

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
)

type meshFile struct {
	Kind  string     `json:"kind"`
	Floor float32    `json:"floor"`
	Min   *[2]float32 `json:"min"`
	Max   *[2]float32 `json:"max"`
}

// LoadMesh reads a .navmesh file. The built-in format is a small JSON
// document describing a walkable plane; real deployments substitute a
// Mesh implementation backed by the external navmesh library.
func LoadMesh(path string) (Mesh, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("navmesh: %w", err)
	}

	var mf meshFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("navmesh %s: %w", path, err)
	}

	switch mf.Kind {
	case "plane":
		m := &PlaneMesh{Floor: mf.Floor}
		if mf.Min != nil && mf.Max != nil {
			m.Bounded = true
			m.Min = mgl32.Vec2(*mf.Min)
			m.Max = mgl32.Vec2(*mf.Max)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("navmesh %s: unknown kind %q", path, mf.Kind)
	}
}
