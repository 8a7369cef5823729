// Package game runs the simulator: it loads the collection and episode
// set, drives the batch step loop, and feeds telemetry, the state
// stream and the viewer.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pthm-cable/batchsim/config"
	"github.com/pthm-cable/batchsim/renderer"
	"github.com/pthm-cable/batchsim/sim"
	"github.com/pthm-cable/batchsim/stream"
	"github.com/pthm-cable/batchsim/telemetry"
	"github.com/pthm-cable/batchsim/ui"
)

// Options holds run settings that come from the command line.
type Options struct {
	Seed      int64
	LogStats  bool
	OutputDir string // overrides telemetry.output_dir when set
	Headless  bool   // never open a window, even with the raylib backend
}

// Game holds the complete run state.
type Game struct {
	cfg *config.Config
	rng *rand.Rand

	sim     *sim.Simulator
	backend renderer.Backend
	viewer  *ui.Viewer // nil unless graphical

	resets []int
	tick   int

	// Telemetry
	collector     *telemetry.Collector
	perfCollector *telemetry.PerfCollector
	metrics       *telemetry.Metrics
	registry      *prometheus.Registry
	outputManager *telemetry.OutputManager
	events        []telemetry.Event
	windowStart   time.Time
	latestWindow  atomic.Pointer[telemetry.WindowStats]
	logStats      bool

	// Streaming and HTTP
	hub    *stream.Hub
	server *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGame loads everything the run needs. The raylib window, if any,
// must already be open.
func NewGame(cfg *config.Config, opts Options) (*Game, error) {
	g := &Game{
		cfg:           cfg,
		rng:           rand.New(rand.NewSource(opts.Seed)),
		resets:        make([]int, cfg.Sim.NumEnvs),
		collector:     telemetry.NewCollector(cfg.Telemetry.StatsWindowSteps),
		perfCollector: telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		registry:      prometheus.NewRegistry(),
		logStats:      opts.LogStats,
		windowStart:   time.Now(),
		done:          make(chan struct{}),
	}
	g.metrics = telemetry.NewMetrics(g.registry)

	col, err := loadCollection(cfg.Sim.CollectionFile)
	if err != nil {
		return nil, err
	}
	set, err := loadEpisodeSet(cfg, col, g.rng)
	if err != nil {
		return nil, err
	}

	graphical := cfg.Renderer.Backend == config.BackendRaylib && !opts.Headless
	backend, err := newBackend(cfg, set)
	if err != nil {
		return nil, err
	}
	g.backend = backend

	simOpts := sim.Options{
		NumEnvs:                   cfg.Sim.NumEnvs,
		NumSubsteps:               cfg.Sim.NumSubsteps,
		DoAsyncPhysicsStep:        cfg.Sim.DoAsyncPhysicsStep,
		ForceRandomActions:        cfg.Sim.ForceRandomActions,
		EnableRobotCollision:      cfg.Sim.EnableRobotCollision,
		EnableHeldObjectCollision: cfg.Sim.EnableHeldObjectCollision,
		Seed:                      opts.Seed,
		SensorAspect:              cfg.Camera.Aspect,
		Grid: sim.GridOptions{
			MaxBytes:       cfg.Broadphase.MaxBytes,
			MaxGridSpacing: cfg.Broadphase.MaxGridSpacing,
			DomainMargin:   cfg.Broadphase.DomainMargin,
		},
		Placement: cfg.Placement,
	}
	g.sim, err = sim.New(simOpts, col, set, backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if cfg.Camera.HFOV > 0 {
		if err := g.sim.SetCamera(cfg.Derived.CameraPosition, cfg.Derived.CameraRotation, cfg.Camera.HFOV, cfg.Camera.AttachLink); err != nil {
			g.sim.Close()
			backend.Close()
			return nil, err
		}
	}
	g.attachSceneViews(set, graphical)

	outputDir := cfg.Telemetry.OutputDir
	if opts.OutputDir != "" {
		outputDir = opts.OutputDir
	}
	if g.outputManager, err = telemetry.NewOutputManager(outputDir); err != nil {
		g.sim.Close()
		backend.Close()
		return nil, err
	}
	if g.outputManager != nil {
		if err := g.outputManager.WriteConfig(cfg); err != nil {
			g.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.hub = stream.NewHub(cfg.Server.MaxStreams, g.metrics.SetStreamConnections)
	go func() {
		defer close(g.done)
		g.hub.Run(ctx)
	}()
	if cfg.Server.Addr != "" {
		g.startServer(cfg.Server.Addr)
	}

	slog.Info("game ready",
		"seed", opts.Seed,
		"backend", cfg.Renderer.Backend,
		"graphical", graphical,
		"episodes", g.sim.NumEpisodes(),
		"output_dir", outputDir,
	)
	return g, nil
}

// Tick returns the number of completed steps.
func (g *Game) Tick() int { return g.tick }

// Sim returns the simulator.
func (g *Game) Sim() *sim.Simulator { return g.sim }

// Update advances one step unless the viewer is paused.
func (g *Game) Update() error {
	if g.viewer == nil {
		return g.Step()
	}
	g.viewer.HandleInput()
	if !g.viewer.ShouldStep() {
		return nil
	}
	return g.Step()
}

// Draw renders the viewer frame. It is a no-op without a window.
func (g *Game) Draw() {
	if g.viewer == nil {
		return
	}
	g.perfCollector.RecordFrame()
	perf := g.perfCollector.Stats()

	rl.BeginDrawing()
	g.viewer.Draw(ui.HUDData{
		Title:          "batchsim",
		Step:           g.tick,
		FPS:            rl.GetFPS(),
		StepsPerSecond: perf.StepsPerSecond,
		State:          g.sim.EnvironmentStates()[g.viewer.Env()],
		Window:         g.latestWindow.Load(),
	})
	rl.EndDrawing()
}

// Close stops the server and the stream hub, flushes output files and
// releases the simulator.
func (g *Game) Close() error {
	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := g.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "error", err)
		}
		cancel()
	}
	if g.cancel != nil {
		g.cancel()
		<-g.done
	}

	var firstErr error
	if g.outputManager != nil {
		if err := g.outputManager.WriteEvents(g.events); err != nil {
			firstErr = err
		}
		g.events = nil
		if err := g.outputManager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := g.sim.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing simulator: %w", err)
	}
	if err := g.backend.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing renderer: %w", err)
	}
	return firstErr
}
