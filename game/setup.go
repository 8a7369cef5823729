package game

import (
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"

	"github.com/pthm-cable/batchsim/collection"
	"github.com/pthm-cable/batchsim/config"
	"github.com/pthm-cable/batchsim/episode"
	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/renderer"
	"github.com/pthm-cable/batchsim/ui"
)

// loadCollection reads path, or returns the built-in robot collection
// when path is empty.
func loadCollection(path string) (*collection.Collection, error) {
	if path == "" {
		return collection.Default()
	}
	return collection.Load(path)
}

// loadEpisodeSet generates a procedural set or loads the configured
// file, resolving column grid CSVs against column_grid_dir or the set's
// own directory.
func loadEpisodeSet(cfg *config.Config, col *collection.Collection, rng *rand.Rand) (*episode.Set, error) {
	if cfg.Sim.DoProceduralEpisodeSet {
		set, err := episode.Generate(col, cfg.Generator, rng)
		if err != nil {
			return nil, fmt.Errorf("generating episode set: %w", err)
		}
		slog.Info("generated episode set", "episodes", len(set.Episodes), "scenes", len(set.StaticScenes))
		return set, nil
	}

	set, err := episode.Load(cfg.Sim.EpisodeSetFile)
	if err != nil {
		return nil, err
	}
	dir := cfg.Sim.ColumnGridDir
	if dir == "" {
		dir = filepath.Dir(cfg.Sim.EpisodeSetFile)
	}
	if err := set.PostLoadFixup(col, episode.FixupOptions{
		ColumnGridSpacing: cfg.Sim.ColumnGridSpacing,
		ColumnGridLoader:  episode.CSVColumnGridLoader(dir),
	}); err != nil {
		return nil, fmt.Errorf("episode set %s: %w", cfg.Sim.EpisodeSetFile, err)
	}
	slog.Info("loaded episode set", "path", cfg.Sim.EpisodeSetFile, "episodes", len(set.Episodes))
	return set, nil
}

// newBackend builds the configured render backend. The headless and
// raylib backends are both a Recorder; the viewer reads it back.
func newBackend(cfg *config.Config, set *episode.Set) (renderer.Backend, error) {
	n := cfg.Sim.NumEnvs
	if cfg.Renderer.Backend == config.BackendSnapshot {
		return renderer.NewSnapshot(n, renderer.SnapshotOptions{
			Dir:            cfg.Renderer.SnapshotDir,
			Every:          cfg.Renderer.SnapshotEvery,
			MaxEnvs:        cfg.Renderer.SnapshotEnvs,
			PixelsPerMeter: cfg.Renderer.PixelsPerMeter,
			Bounds:         set.AllEpisodesAABB,
		})
	}
	return renderer.NewRecorder(n), nil
}

// sceneView draws free objects by their footprint.
type sceneView interface {
	SetFootprint(asset string, box geom.AABB)
}

// attachSceneViews gives the snapshot writer or the viewer the scene
// boxes and free object footprints they draw.
func (g *Game) attachSceneViews(set *episode.Set, graphical bool) {
	var views []sceneView
	rec, _ := g.backend.(*renderer.Recorder)
	if snap, ok := g.backend.(*renderer.Snapshot); ok {
		snap.Background = g.sim.SceneBoxes
		views = append(views, snap)
		rec = snap.Recorder
	}
	if graphical && rec != nil {
		g.viewer = ui.NewViewer(rec, set.AllEpisodesAABB, g.cfg.Screen.Width, g.cfg.Screen.Height)
		g.viewer.Background = g.sim.SceneBoxes
		views = append(views, g.viewer)
	}
	for _, fo := range set.FreeObjects {
		for _, v := range views {
			v.SetFootprint(set.RenderAssets[fo.RenderAsset], fo.AABB)
		}
	}
}
