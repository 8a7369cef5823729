// Package config provides configuration loading and access for the simulator.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/batchsim/episode"
	"github.com/pthm-cable/batchsim/placement"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulator configuration parameters.
type Config struct {
	Sim        SimConfig                `yaml:"sim"`
	Broadphase BroadphaseConfig         `yaml:"broadphase"`
	Placement  placement.Options        `yaml:"placement"`
	Generator  episode.GeneratorOptions `yaml:"generator"`
	Renderer   RendererConfig           `yaml:"renderer"`
	Screen     ScreenConfig             `yaml:"screen"`
	Camera     CameraConfig             `yaml:"camera"`
	Telemetry  TelemetryConfig          `yaml:"telemetry"`
	Server     ServerConfig             `yaml:"server"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimConfig holds batch and episode source settings.
type SimConfig struct {
	NumEnvs                   int   `yaml:"num_envs"`
	NumSubsteps               int   `yaml:"num_substeps"`
	DoAsyncPhysicsStep        bool  `yaml:"do_async_physics_step"`
	ForceRandomActions        bool  `yaml:"force_random_actions"`
	EnableRobotCollision      bool  `yaml:"enable_robot_collision"`
	EnableHeldObjectCollision bool  `yaml:"enable_held_object_collision"`
	Seed                      int64 `yaml:"seed"` // 0 = time-based
	MaxEpisodeSteps           int   `yaml:"max_episode_steps"`

	// Episode source: a procedural set, or a YAML set with optional
	// column grid CSVs next to it.
	DoProceduralEpisodeSet bool    `yaml:"do_procedural_episode_set"`
	EpisodeSetFile         string  `yaml:"episode_set_file"`
	CollectionFile         string  `yaml:"collection_file"` // empty = built-in robot
	ColumnGridDir          string  `yaml:"column_grid_dir"`
	ColumnGridSpacing      float64 `yaml:"column_grid_spacing"`
}

// BroadphaseConfig sizes the per-env free-object grids.
type BroadphaseConfig struct {
	MaxBytes       int     `yaml:"max_bytes"`
	MaxGridSpacing float64 `yaml:"max_grid_spacing"`
	DomainMargin   float64 `yaml:"domain_margin"`
}

// RendererConfig selects the render backend.
type RendererConfig struct {
	Backend        string  `yaml:"backend"` // headless | snapshot | raylib
	SnapshotDir    string  `yaml:"snapshot_dir"`
	SnapshotEvery  int     `yaml:"snapshot_every"`
	SnapshotEnvs   int     `yaml:"snapshot_envs"`
	PixelsPerMeter float64 `yaml:"pixels_per_meter"`
}

// Render backends.
const (
	BackendHeadless = "headless"
	BackendSnapshot = "snapshot"
	BackendRaylib   = "raylib"
)

// ScreenConfig holds viewer window settings.
type ScreenConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// CameraConfig is the sensor camera. Position and rotation are relative
// to AttachLink, or to the world when it is empty. Rotation is
// [w, x, y, z]. HFOV 0 leaves the camera unset.
type CameraConfig struct {
	AttachLink string     `yaml:"attach_link"`
	Position   [3]float64 `yaml:"position"`
	Rotation   [4]float64 `yaml:"rotation"`
	HFOV       float64    `yaml:"hfov"`
	Aspect     float64    `yaml:"aspect"`
}

// TelemetryConfig holds statistics and output settings.
type TelemetryConfig struct {
	StatsWindowSteps int    `yaml:"stats_window_steps"`
	PerfWindow       int    `yaml:"perf_window"`
	OutputDir        string `yaml:"output_dir"`
	LogEvents        bool   `yaml:"log_events"`
}

// ServerConfig holds the HTTP endpoint settings. An empty Addr disables
// the server.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	StreamEvery    int      `yaml:"stream_every"`
	MaxStreams     int      `yaml:"max_streams"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DerivedConfig holds values computed from other config values.
type DerivedConfig struct {
	CameraPosition r3.Vec
	CameraRotation quat.Number
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Sim.NumEnvs <= 0:
		return fmt.Errorf("config: sim.num_envs must be positive, got %d", c.Sim.NumEnvs)
	case c.Sim.NumSubsteps <= 0:
		return fmt.Errorf("config: sim.num_substeps must be positive, got %d", c.Sim.NumSubsteps)
	case c.Sim.MaxEpisodeSteps <= 0:
		return fmt.Errorf("config: sim.max_episode_steps must be positive, got %d", c.Sim.MaxEpisodeSteps)
	case !c.Sim.DoProceduralEpisodeSet && c.Sim.EpisodeSetFile == "":
		return fmt.Errorf("config: sim.episode_set_file is required without a procedural episode set")
	case c.Placement.MaxFailedPlacements <= 0:
		return fmt.Errorf("config: placement.max_failed_placements must be positive")
	case c.Camera.HFOV < 0 || c.Camera.HFOV >= 180:
		return fmt.Errorf("config: camera.hfov %g outside [0, 180)", c.Camera.HFOV)
	}
	switch c.Renderer.Backend {
	case BackendHeadless, BackendSnapshot, BackendRaylib:
	default:
		return fmt.Errorf("config: unknown renderer.backend %q", c.Renderer.Backend)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	p := c.Camera.Position
	c.Derived.CameraPosition = r3.Vec{X: p[0], Y: p[1], Z: p[2]}

	q := quat.Number{Real: c.Camera.Rotation[0], Imag: c.Camera.Rotation[1], Jmag: c.Camera.Rotation[2], Kmag: c.Camera.Rotation[3]}
	if n := quat.Abs(q); n > 0 && !math.IsInf(n, 0) {
		q = quat.Scale(1/n, q)
	} else {
		q = quat.Number{Real: 1}
	}
	c.Derived.CameraRotation = q

	if c.Camera.Aspect <= 0 {
		c.Camera.Aspect = float64(c.Screen.Width) / float64(max(c.Screen.Height, 1))
	}
	if c.Generator.ColumnGridSpacing <= 0 {
		c.Generator.ColumnGridSpacing = c.Sim.ColumnGridSpacing
	}
	if c.Server.StreamEvery < 1 {
		c.Server.StreamEvery = 1
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
