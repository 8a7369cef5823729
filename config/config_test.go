package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/num/quat"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sim.NumEnvs != 16 || cfg.Sim.NumSubsteps != 1 {
		t.Errorf("sim = %+v", cfg.Sim)
	}
	if cfg.Placement.MaxFailedPlacements != 6 || cfg.Placement.WallTolerance != 0.05 {
		t.Errorf("placement = %+v", cfg.Placement)
	}
	if cfg.Generator.ColumnGridSpacing != cfg.Sim.ColumnGridSpacing {
		t.Errorf("generator spacing %g not derived from sim spacing %g",
			cfg.Generator.ColumnGridSpacing, cfg.Sim.ColumnGridSpacing)
	}
	if math.Abs(quat.Abs(cfg.Derived.CameraRotation)-1) > 1e-9 {
		t.Errorf("camera rotation %v not normalized", cfg.Derived.CameraRotation)
	}
	if want := 1280.0 / 800; cfg.Camera.Aspect != want {
		t.Errorf("camera aspect = %g, want %g", cfg.Camera.Aspect, want)
	}
}

func TestLoadOverlay(t *testing.T) {
	path := writeFile(t, `
sim:
  num_envs: 3
renderer:
  backend: snapshot
camera:
  rotation: [2, 0, 0, 0]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sim.NumEnvs != 3 {
		t.Errorf("num_envs = %d, want 3", cfg.Sim.NumEnvs)
	}
	if !cfg.Sim.EnableRobotCollision {
		t.Error("fields missing from the file should keep their defaults")
	}
	if cfg.Renderer.Backend != BackendSnapshot {
		t.Errorf("backend = %q", cfg.Renderer.Backend)
	}
	if cfg.Derived.CameraRotation != (quat.Number{Real: 1}) {
		t.Errorf("camera rotation = %v, want identity", cfg.Derived.CameraRotation)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no envs", "sim: {num_envs: 0}", "num_envs"},
		{"no substeps", "sim: {num_substeps: -1}", "num_substeps"},
		{"no episode length", "sim: {max_episode_steps: 0}", "max_episode_steps"},
		{"no episode source", "sim: {do_procedural_episode_set: false}", "episode_set_file"},
		{"unknown backend", "renderer: {backend: vulkan}", "vulkan"},
		{"wide camera", "camera: {hfov: 200}", "hfov"},
		{"bad yaml", "sim: [", "parsing config file"},
		{"short vector", "camera: {position: [1, 2]}", "parsing config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Sim.NumEnvs = 5
	cfg.Server.Addr = ":9000"

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatal(err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Sim.NumEnvs != 5 || back.Server.Addr != ":9000" {
		t.Errorf("round trip lost overrides: %+v %+v", back.Sim, back.Server)
	}
}

func TestCfgBeforeInit(t *testing.T) {
	saved := global
	global = nil
	defer func() { global = saved }()

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Cfg()
}

func TestInit(t *testing.T) {
	saved := global
	defer func() { global = saved }()

	if err := Init(writeFile(t, "sim: {num_envs: 2}")); err != nil {
		t.Fatal(err)
	}
	if Cfg().Sim.NumEnvs != 2 {
		t.Errorf("Cfg().Sim.NumEnvs = %d", Cfg().Sim.NumEnvs)
	}
}
