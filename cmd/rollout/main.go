package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/exp/rand"

	"navrollout.ai/internal/config"
	"navrollout.ai/internal/engine"
	"navrollout.ai/internal/observer"
	"navrollout.ai/internal/render"
	"navrollout.ai/internal/telemetry"
)

// A standalone driver over the null backend: exercises the full step
// loop with a uniform random policy. Training integrations replace
// both the backend and the policy; the wiring here is the reference.
func main() {
	var (
		cfgPath    = flag.String("config", "", "path to rollout.yaml (optional)")
		datasetDir = flag.String("dataset", "", "episode dataset directory (overrides config)")
		assetDir   = flag.String("assets", "", "scene asset directory (overrides config)")
		envs       = flag.Int("envs", 0, "environment count (overrides config)")
		scenes     = flag.Int("scenes", 0, "active scene count (overrides config)")
		iters      = flag.Int("iters", 0, "stop after this many iterations per group (0 = run until signal)")
		addr       = flag.String("addr", "127.0.0.1:8070", "observer http listen address (empty to disable)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the episode outcome index")
		policySeed = flag.Uint64("policy_seed", 7, "random policy seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[rollout] ", log.LstdFlags|log.Lmicroseconds)

	cfg := config.Defaults()
	if strings.TrimSpace(*cfgPath) != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
	}
	if *datasetDir != "" {
		cfg.DatasetPath = *datasetDir
	}
	if *assetDir != "" {
		cfg.AssetPath = *assetDir
	}
	if *envs > 0 {
		cfg.Environments = *envs
	}
	if *scenes > 0 {
		cfg.ActiveScenes = *scenes
	}

	var opts engine.Options
	if !*disableDB {
		rec, err := telemetry.Open(filepath.Join(*dataDir, "episodes.db"))
		if err != nil {
			logger.Fatalf("open episode index: %v", err)
		}
		defer rec.Close()
		opts.Recorder = rec
		logger.Printf("episode index run_id=%s", rec.RunID())
	}

	backend := render.NewNullBackend()
	eng, err := engine.New(cfg, backend, logger, opts)
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	defer eng.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if strings.TrimSpace(*addr) != "" {
		go serveObserver(ctx, *addr, eng, logger)
	}

	policy := rand.New(rand.NewSource(*policySeed))
	actions := make([][]int64, eng.NumGroups())
	for g := range actions {
		actions[g] = make([]int64, eng.EnvsPerGroup())
	}

	for g := 0; g < eng.NumGroups(); g++ {
		eng.Reset(g)
	}

	start := time.Now()
	it := 0
	for ctx.Err() == nil && (*iters == 0 || it < *iters) {
		for g := 0; g < eng.NumGroups(); g++ {
			eng.WaitForFrame(g)
			for i := range actions[g] {
				actions[g][i] = int64(policy.Intn(4))
			}
			eng.Step(g, actions[g])
		}
		it++
	}

	st := eng.Stats()
	elapsed := time.Since(start).Seconds()
	steps := float64(st.Iterations) * float64(eng.EnvsPerGroup())
	logger.Printf("done: iterations=%d episodes=%d env_steps_per_sec=%.0f",
		st.Iterations, st.Episodes, steps/elapsed)
}

func serveObserver(ctx context.Context, addr string, eng *engine.Engine, logger *log.Logger) {
	obs := observer.NewServer(eng, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/stats", obs.StatsHandler())
	mux.HandleFunc("/v1/ws", obs.WSHandler())

	if envBool("NR_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("observer listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("observer: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
