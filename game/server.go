package game

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/batchsim/telemetry"
)

// statsResponse is the /stats body. Window is null before the first
// flush.
type statsResponse struct {
	Window          *telemetry.WindowStats `json:"window"`
	StreamClients   int                    `json:"stream_clients"`
	NumEnvs         int                    `json:"num_envs"`
	MaxEpisodeSteps int                    `json:"max_episode_steps"`
}

// Router returns the HTTP handler: /metrics, /stats and the /ws state
// stream. Handlers only read state published by the step loop.
func (g *Game) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: g.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	r.Get("/stats", g.handleStats)
	r.Handle("/ws", g.hub)
	return r
}

func (g *Game) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statsResponse{
		Window:          g.latestWindow.Load(),
		StreamClients:   g.hub.ClientCount(),
		NumEnvs:         g.cfg.Sim.NumEnvs,
		MaxEpisodeSteps: g.cfg.Sim.MaxEpisodeSteps,
	}); err != nil {
		slog.Warn("encoding stats", "error", err)
	}
}

// startServer listens on addr in the background until Close.
func (g *Game) startServer(addr string) {
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
}
