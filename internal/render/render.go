// Package render declares the surface the rollout core needs from the
// GPU batch renderer. The renderer itself lives outside this module; a
// NullBackend stands in for tests and CPU-only benchmarking.
package render

import "github.com/go-gl/mathgl/mgl32"

// Config mirrors the renderer construction parameters the engine passes
// through from its own configuration.
type Config struct {
	GPUID          int
	BatchSize      int
	Width, Height  int
	Color, Depth   bool
	DoubleBuffered bool
}

// SceneHandle is a GPU-resident scene produced by the asset loader.
// Opaque to the core; destroyed exactly once when its last reference-
// counted holder releases it.
type SceneHandle interface {
	Destroy()
}

// AssetLoader converts an on-disk mesh into a GPU-resident scene.
// Load failures are fatal to the engine.
type AssetLoader interface {
	LoadScene(path string) (SceneHandle, error)
}

// Environment is one agent's render slot inside a batch.
type Environment interface {
	// SetCameraView installs the world-to-camera matrix for the next
	// rendered frame.
	SetCameraView(view mgl32.Mat4)
}

// CommandStream submits batches and owns the per-group GPU output
// buffers. Render is a non-blocking submit; WaitForFrame synchronizes
// with GPU completion for one group.
type CommandStream interface {
	MakeEnvironment(scene SceneHandle, fovDegrees, near, far float32) Environment
	Render(group int, envs []Environment)
	WaitForFrame(group int)

	// Opaque device pointers handed to the consumer.
	ColorPtr(group int) uintptr
	DepthPtr(group int) uintptr
	SemaphorePtr(group int) uintptr
}

// Backend constructs the loader and command stream. Close releases GPU
// resources; the engine calls it last during shutdown.
type Backend interface {
	MakeCommandStream(cfg Config) CommandStream
	MakeLoader() AssetLoader

	// MeshExtension is the renderer's preferred mesh file extension
	// (with dot), used when deriving asset paths from scene ids.
	MeshExtension() string

	Close()
}
