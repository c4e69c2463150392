package scene

import (
	"log"
	"sync"
	"time"

	"navrollout.ai/internal/affinity"
	"navrollout.ai/internal/oneshot"
	"navrollout.ai/internal/render"
)

// DefaultLoadSpacing throttles disk and decompression pressure: the
// loader thread leaves at least this much wall time between consecutive
// loads. Policy only, not a correctness requirement.
const DefaultLoadSpacing = time.Second

type request struct {
	path string
	fut  *oneshot.Future[*Asset]
}

// Loader serializes scene asset loads on one dedicated thread. Requests
// resolve through one-shot futures; I/O failures are fatal because the
// engine assumes a curated dataset.
type Loader struct {
	loader  render.AssetLoader
	log     *log.Logger
	spacing time.Duration

	mu   sync.Mutex
	cv   *sync.Cond
	exit bool
	reqs []request

	done chan struct{}
}

// NewLoader starts the loader thread. pinCore >= 0 binds the thread to
// that core, best-effort; pass -1 to leave it unpinned.
func NewLoader(al render.AssetLoader, pinCore int, spacing time.Duration, logger *log.Logger) *Loader {
	l := &Loader{
		loader:  al,
		log:     logger,
		spacing: spacing,
		done:    make(chan struct{}),
	}
	l.cv = sync.NewCond(&l.mu)
	go l.loop(pinCore)
	return l
}

// LoadAsync queues one load and returns its future. At most the engine's
// swap pipeline drives this, so the queue stays short.
func (l *Loader) LoadAsync(path string) *oneshot.Future[*Asset] {
	fut := oneshot.New[*Asset]()

	l.mu.Lock()
	if l.exit {
		l.mu.Unlock()
		panic("scene: load after loader close")
	}
	l.reqs = append(l.reqs, request{path: path, fut: fut})
	l.mu.Unlock()
	l.cv.Signal()

	return fut
}

// Load blocks until the asset is resident. Used for the eager initial
// scene loads during group construction.
func (l *Loader) Load(path string) *Asset {
	return l.LoadAsync(path).Wait()
}

// Close stops the loader thread and waits for it to return.
func (l *Loader) Close() {
	l.mu.Lock()
	l.exit = true
	l.mu.Unlock()
	l.cv.Signal()
	<-l.done
}

func (l *Loader) loop(pinCore int) {
	defer close(l.done)
	if pinCore >= 0 {
		affinity.Pin(pinCore)
	}

	var lastLoad time.Time
	for {
		l.mu.Lock()
		for len(l.reqs) == 0 {
			if l.exit {
				l.mu.Unlock()
				return
			}
			l.cv.Wait()
		}
		req := l.reqs[0]
		l.reqs = l.reqs[1:]
		l.mu.Unlock()

		if !lastLoad.IsZero() {
			if wait := l.spacing - time.Since(lastLoad); wait > 0 {
				time.Sleep(wait)
			}
		}

		handle, err := l.loader.LoadScene(req.path)
		if err != nil {
			l.log.Fatalf("scene load %s: %v", req.path, err)
		}
		lastLoad = time.Now()

		req.fut.Fill(NewAsset(handle))
	}
}
