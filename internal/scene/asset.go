// Package scene manages GPU-resident scene assets: reference-counted
// lifetime across loader, swapper, and environments; a dedicated
// background loader thread; and the per-active-scene swap controller.
package scene

import (
	"sync/atomic"

	"navrollout.ai/internal/render"
)

// Asset is a shared scene handle. The loader, the swapper, and every
// environment bound to the scene each hold one reference; the handle is
// destroyed when the last holder releases. Holders form a DAG, so cyclic
// references cannot occur.
type Asset struct {
	refs   atomic.Int32
	handle render.SceneHandle
}

// NewAsset wraps a freshly loaded handle with one reference owned by the
// caller.
func NewAsset(h render.SceneHandle) *Asset {
	a := &Asset{handle: h}
	a.refs.Store(1)
	return a
}

// Retain adds a reference and returns the asset for chaining.
func (a *Asset) Retain() *Asset {
	if a.refs.Add(1) <= 1 {
		panic("scene: retain of dead asset")
	}
	return a
}

// Release drops a reference, destroying the handle on the last one.
func (a *Asset) Release() {
	n := a.refs.Add(-1)
	if n == 0 {
		a.handle.Destroy()
	} else if n < 0 {
		panic("scene: release of dead asset")
	}
}

// Handle exposes the underlying renderer scene.
func (a *Asset) Handle() render.SceneHandle { return a.handle }
