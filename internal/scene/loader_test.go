package scene

import (
	"fmt"
	"log"
	"os"
	"testing"

	"navrollout.ai/internal/render"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", log.LstdFlags)
}

func TestLoaderResolvesRequestsInOrder(t *testing.T) {
	backend := render.NewNullBackend()
	l := NewLoader(backend.MakeLoader(), -1, 0, testLogger())
	defer l.Close()

	var assets []*Asset
	for i := 0; i < 8; i++ {
		assets = append(assets, l.LoadAsync(fmt.Sprintf("scene_%d.glb", i)).Wait())
	}
	if backend.ScenesLoaded() != 8 {
		t.Fatalf("ScenesLoaded = %d, want 8", backend.ScenesLoaded())
	}
	for _, a := range assets {
		a.Release()
	}
	if backend.ScenesFreed() != 8 {
		t.Fatalf("ScenesFreed = %d, want 8", backend.ScenesFreed())
	}
}

func TestLoaderSyncLoad(t *testing.T) {
	backend := render.NewNullBackend()
	l := NewLoader(backend.MakeLoader(), -1, 0, testLogger())
	defer l.Close()

	a := l.Load("scene.glb")
	if a == nil || a.Handle() == nil {
		t.Fatalf("Load returned %v", a)
	}
	a.Release()
}

func TestLoaderDrainsQueueOnClose(t *testing.T) {
	backend := render.NewNullBackend()
	l := NewLoader(backend.MakeLoader(), -1, 0, testLogger())

	f1 := l.LoadAsync("a.glb")
	f2 := l.LoadAsync("b.glb")
	l.Close()

	// Close must not abandon queued requests.
	a1, a2 := f1.Wait(), f2.Wait()
	a1.Release()
	a2.Release()
	if backend.ScenesLoaded() != 2 || backend.ScenesFreed() != 2 {
		t.Fatalf("loaded=%d freed=%d, want 2/2", backend.ScenesLoaded(), backend.ScenesFreed())
	}
}

func TestLoadAsyncAfterClosePanics(t *testing.T) {
	l := NewLoader(render.NewNullBackend().MakeLoader(), -1, 0, testLogger())
	l.Close()

	defer func() {
		if recover() == nil {
			t.Fatalf("LoadAsync after Close did not panic")
		}
	}()
	l.LoadAsync("late.glb")
}
