package render

import (
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// NullBackend satisfies Backend without touching a GPU. Scene loads and
// render submits only bump counters, which tests assert against.
type NullBackend struct {
	scenesLoaded  atomic.Int64
	scenesFreed   atomic.Int64
	framesByGroup [2]atomic.Int64
}

// NewNullBackend returns a backend suitable for tests and CPU-only
// throughput runs.
func NewNullBackend() *NullBackend { return &NullBackend{} }

func (b *NullBackend) MakeCommandStream(cfg Config) CommandStream { return &nullStream{backend: b} }
func (b *NullBackend) MakeLoader() AssetLoader          { return &nullLoader{backend: b} }
func (b *NullBackend) MeshExtension() string            { return ".glb" }
func (b *NullBackend) Close()                           {}

// ScenesLoaded reports how many scene handles the loader produced.
func (b *NullBackend) ScenesLoaded() int64 { return b.scenesLoaded.Load() }

// ScenesFreed reports how many scene handles were destroyed.
func (b *NullBackend) ScenesFreed() int64 { return b.scenesFreed.Load() }

// Frames reports how many batches were submitted for a group.
func (b *NullBackend) Frames(group int) int64 { return b.framesByGroup[group].Load() }

type nullLoader struct {
	backend *NullBackend
}

func (l *nullLoader) LoadScene(path string) (SceneHandle, error) {
	l.backend.scenesLoaded.Add(1)
	return &nullScene{backend: l.backend, path: path}, nil
}

type nullScene struct {
	backend *NullBackend
	path    string
}

func (s *nullScene) Destroy() { s.backend.scenesFreed.Add(1) }

type nullStream struct {
	backend *NullBackend
}

func (st *nullStream) MakeEnvironment(scene SceneHandle, fovDegrees, near, far float32) Environment {
	return &nullEnv{scene: scene}
}

func (st *nullStream) Render(group int, envs []Environment) {
	st.backend.framesByGroup[group].Add(1)
}

func (st *nullStream) WaitForFrame(group int) {}

func (st *nullStream) ColorPtr(group int) uintptr     { return 0 }
func (st *nullStream) DepthPtr(group int) uintptr     { return 0 }
func (st *nullStream) SemaphorePtr(group int) uintptr { return 0 }

type nullEnv struct {
	scene SceneHandle
	view  mgl32.Mat4
}

func (e *nullEnv) SetCameraView(view mgl32.Mat4) { e.view = view }

// View exposes the last installed camera matrix for tests.
func (e *nullEnv) View() mgl32.Mat4 { return e.view }
