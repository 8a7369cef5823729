package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/batchsim/config"
	"github.com/pthm-cable/batchsim/game"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Never open a window, even with the raylib backend")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	seed := flag.Int64("seed", 0, "RNG seed (0 = sim.seed, then time-based)")
	maxSteps := flag.Int("max-steps", 0, "Stop after N steps (0 = unlimited)")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = cfg.Sim.Seed
	}
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	opts := game.Options{
		Seed:      rngSeed,
		LogStats:  *logStats,
		OutputDir: *outputDir,
		Headless:  *headless,
	}

	if *headless || cfg.Renderer.Backend != config.BackendRaylib {
		os.Exit(runHeadless(opts, *maxSteps))
	}
	os.Exit(runGraphical(cfg, opts, *maxSteps))
}

func runHeadless(opts game.Options, maxSteps int) int {
	g, err := game.NewGame(config.Cfg(), opts)
	if err != nil {
		slog.Error("failed to start", "error", err)
		return 1
	}
	slog.Info("starting headless simulation", "seed", opts.Seed, "max_steps", maxSteps)

	code := 0
	for maxSteps <= 0 || g.Tick() < maxSteps {
		if err := g.Step(); err != nil {
			slog.Error("simulation halted", "tick", g.Tick(), "error", err)
			code = 1
			break
		}
	}
	if maxSteps > 0 && code == 0 {
		slog.Info("max steps reached", "tick", g.Tick(), "totals", g.Sim().TotalStats())
	}
	if err := g.Close(); err != nil {
		slog.Error("shutdown", "error", err)
		code = 1
	}
	return code
}

func runGraphical(cfg *config.Config, opts game.Options, maxSteps int) int {
	rl.SetConfigFlags(rl.FlagWindowResizable)
	rl.InitWindow(int32(cfg.Screen.Width), int32(cfg.Screen.Height), "batchsim")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(cfg.Screen.TargetFPS))

	g, err := game.NewGame(cfg, opts)
	if err != nil {
		slog.Error("failed to start", "error", err)
		return 1
	}

	code := 0
	for !rl.WindowShouldClose() {
		if err := g.Update(); err != nil {
			slog.Error("simulation halted", "tick", g.Tick(), "error", err)
			code = 1
			break
		}
		g.Draw()

		if maxSteps > 0 && g.Tick() >= maxSteps {
			break
		}
	}
	if err := g.Close(); err != nil {
		slog.Error("shutdown", "error", err)
		code = 1
	}
	return code
}
