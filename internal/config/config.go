package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/HelioGo/internal/calibrate"
	"github.com/cjeanneret/HelioGo/internal/grid"
	"github.com/cjeanneret/HelioGo/internal/hw/motor"
	"github.com/cjeanneret/HelioGo/internal/space"
)

// MaxConfigFileBytes caps the size of a config file read into memory.
const MaxConfigFileBytes = 1 << 20

// AxisPinConfig holds the wiring of one stepper axis.
type AxisPinConfig struct {
	StepPin        int `yaml:"step_pin"`
	DirPin         int `yaml:"dir_pin"`
	EnablePin      int `yaml:"enable_pin"`       // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	HomePin        int `yaml:"home_pin"`         // limit switch input. 0 = no switch.
	MaxTravelSteps int `yaml:"max_travel_steps"` // homing sweep bound. 0 = driver default.
	StepDelayUs    int `yaml:"step_delay_us"`    // half-cycle of the STEP pulse (µs)
}

// ControllerConfig describes one driver board and its axes.
type ControllerConfig struct {
	ID   string          `yaml:"id"`
	Axes []AxisPinConfig `yaml:"axes"`
}

// MotorRefConfig points a tile axis at a physical motor.
type MotorRefConfig struct {
	Controller string `yaml:"controller"`
	Axis       int    `yaml:"axis"`
}

// TileConfig assigns motors to one grid cell. A missing x or y leaves
// the tile uncalibratable; it is skipped during runs.
type TileConfig struct {
	Row int             `yaml:"row"`
	Col int             `yaml:"col"`
	X   *MotorRefConfig `yaml:"x,omitempty"`
	Y   *MotorRefConfig `yaml:"y,omitempty"`
}

// ViewConfig describes the camera's view of the array.
type ViewConfig struct {
	Aspect       float64 `yaml:"aspect"`        // width/height; 0 = square
	Rotation     int     `yaml:"rotation"`      // degrees CW, multiple of 90
	SourceWidth  int     `yaml:"source_width"`  // sensor width in pixels
	SourceHeight int     `yaml:"source_height"` // sensor height in pixels
}

// CalibrationConfig tunes a calibration run.
type CalibrationConfig struct {
	Gap                 float64 `yaml:"gap"`             // configured tile gap, normalized
	MADThreshold        float64 `yaml:"mad_threshold"`   // robust sizing cutoff in MADs
	DisableRobustSizing bool    `yaml:"disable_robust_sizing"`
	StepTestSteps       int     `yaml:"step_test_steps"` // displacement per axis step test
	AsideSteps          int     `yaml:"aside_steps"`     // X parking offset from home
	Retries             int     `yaml:"retries"`         // capture attempts per measurement
	RetryDelayMs        int     `yaml:"retry_delay_ms"`
	SettleDelayMs       int     `yaml:"settle_delay_ms"` // wait after a move before capture
	CaptureTimeoutMs    int     `yaml:"capture_timeout_ms"`
	MaxMatchDistance    float64 `yaml:"max_match_distance"` // blob acceptance radius around the expected position
	MinSamples          int     `yaml:"min_samples"`        // raw frames per aggregated measurement
	MaxMAD              float64 `yaml:"max_mad"`            // per-axis aggregation stability gate
	Mode                string  `yaml:"mode"`               // "auto" or "step"
}

// StepsConfig is the step geometry shared by every axis.
type StepsConfig struct {
	HomeSteps int `yaml:"home_steps"`
	MinSteps  int `yaml:"min_steps"`
	MaxSteps  int `yaml:"max_steps"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool   `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	StorePath  string `yaml:"store_path"`  // profile database path
	ListenAddr string `yaml:"listen_addr"` // web control surface address
}

// Config aggregates all application configuration.
type Config struct {
	Grid        grid.Size          `yaml:"grid"`
	Controllers []ControllerConfig `yaml:"controllers"`
	Tiles       []TileConfig       `yaml:"tiles"`
	View        ViewConfig         `yaml:"view"`
	Calibration CalibrationConfig  `yaml:"calibration"`
	Steps       StepsConfig        `yaml:"steps"`
	Defaults    DefaultsConfig     `yaml:"defaults"`
}

// ValidateConfigPath checks that a user-supplied config path is a
// .yaml file inside a configs/ directory, rejecting traversal.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the validated configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Grid.Rows <= 0 || cfg.Grid.Cols <= 0 {
		return nil, fmt.Errorf("grid.rows and grid.cols must be > 0")
	}
	if cfg.Steps.MaxSteps <= cfg.Steps.MinSteps {
		return nil, fmt.Errorf("steps.max_steps must be > steps.min_steps")
	}
	if cfg.Steps.HomeSteps < cfg.Steps.MinSteps || cfg.Steps.HomeSteps > cfg.Steps.MaxSteps {
		return nil, fmt.Errorf("steps.home_steps must lie within [min_steps, max_steps]")
	}
	if cfg.View.Rotation%90 != 0 {
		return nil, fmt.Errorf("view.rotation must be a multiple of 90, got %d", cfg.View.Rotation)
	}
	if cfg.View.Aspect < 0 {
		return nil, fmt.Errorf("view.aspect must be >= 0, got %g", cfg.View.Aspect)
	}
	if cfg.Calibration.Gap < 0 {
		return nil, fmt.Errorf("calibration.gap must be >= 0, got %g", cfg.Calibration.Gap)
	}
	switch cfg.Calibration.Mode {
	case "", "auto", "step":
	default:
		return nil, fmt.Errorf("calibration.mode must be \"auto\" or \"step\", got %q", cfg.Calibration.Mode)
	}

	controllers := make(map[string]int)
	for _, c := range cfg.Controllers {
		if c.ID == "" {
			return nil, fmt.Errorf("controller without an id")
		}
		if _, dup := controllers[c.ID]; dup {
			return nil, fmt.Errorf("duplicate controller id %q", c.ID)
		}
		controllers[c.ID] = len(c.Axes)
	}

	seen := make(map[grid.TileKey]bool)
	for _, tc := range cfg.Tiles {
		if !cfg.Grid.Contains(tc.Row, tc.Col) {
			return nil, fmt.Errorf("tile r%dc%d is outside the %dx%d grid", tc.Row, tc.Col, cfg.Grid.Rows, cfg.Grid.Cols)
		}
		key := cfg.Grid.Key(tc.Row, tc.Col)
		if seen[key] {
			return nil, fmt.Errorf("tile r%dc%d assigned twice", tc.Row, tc.Col)
		}
		seen[key] = true
		for _, ref := range []*MotorRefConfig{tc.X, tc.Y} {
			if ref == nil {
				continue
			}
			axes, ok := controllers[ref.Controller]
			if !ok {
				return nil, fmt.Errorf("tile r%dc%d references unknown controller %q", tc.Row, tc.Col, ref.Controller)
			}
			if ref.Axis < 0 || ref.Axis >= axes {
				return nil, fmt.Errorf("tile r%dc%d references axis %d of controller %q, which has %d axes", tc.Row, tc.Col, ref.Axis, ref.Controller, axes)
			}
		}
	}

	// Default values
	if cfg.Calibration.StepTestSteps <= 0 {
		cfg.Calibration.StepTestSteps = 50
	}
	if cfg.Calibration.AsideSteps == 0 {
		cfg.Calibration.AsideSteps = 200
	}
	if cfg.Calibration.Retries <= 0 {
		cfg.Calibration.Retries = 3
	}
	if cfg.Calibration.RetryDelayMs <= 0 {
		cfg.Calibration.RetryDelayMs = 250
	}
	if cfg.Calibration.SettleDelayMs <= 0 {
		cfg.Calibration.SettleDelayMs = 150
	}
	if cfg.Calibration.CaptureTimeoutMs <= 0 {
		cfg.Calibration.CaptureTimeoutMs = 2000
	}
	if cfg.Calibration.MADThreshold <= 0 {
		cfg.Calibration.MADThreshold = 3.0
	}
	if cfg.Defaults.StorePath == "" {
		cfg.Defaults.StorePath = "heliogo.db"
	}
	if cfg.Defaults.ListenAddr == "" {
		cfg.Defaults.ListenAddr = ":8080"
	}

	return &cfg, nil
}

// Assignments expands the tile list into the dense per-key assignment
// table the runner and planner consume.
func (c *Config) Assignments() []grid.AxisAssignment {
	out := make([]grid.AxisAssignment, c.Grid.Tiles())
	for _, tc := range c.Tiles {
		a := grid.AxisAssignment{}
		if tc.X != nil {
			a.X = &grid.MotorRef{Controller: tc.X.Controller, Axis: tc.X.Axis}
		}
		if tc.Y != nil {
			a.Y = &grid.MotorRef{Controller: tc.Y.Controller, Axis: tc.Y.Axis}
		}
		out[c.Grid.Key(tc.Row, tc.Col)] = a
	}
	return out
}

// MotorControllers converts the controller list into the stepper
// bank's configuration.
func (c *Config) MotorControllers() []motor.ControllerConfig {
	out := make([]motor.ControllerConfig, len(c.Controllers))
	for i, cc := range c.Controllers {
		axes := make([]motor.AxisConfig, len(cc.Axes))
		for j, ac := range cc.Axes {
			axes[j] = motor.AxisConfig{
				StepPin:        ac.StepPin,
				DirPin:         ac.DirPin,
				EnablePin:      ac.EnablePin,
				HomePin:        ac.HomePin,
				HomeSteps:      c.Steps.HomeSteps,
				MaxTravelSteps: ac.MaxTravelSteps,
				StepDelay:      time.Duration(ac.StepDelayUs) * time.Microsecond,
			}
		}
		out[i] = motor.ControllerConfig{ID: cc.ID, Axes: axes}
	}
	return out
}

// SpaceView returns the camera view description.
func (c *Config) SpaceView() space.View {
	return space.View{Aspect: c.View.Aspect, Rotation: c.View.Rotation}
}

// StepSettings returns the shared step geometry.
func (c *Config) StepSettings() grid.StepSettings {
	return grid.StepSettings{
		HomeSteps: c.Steps.HomeSteps,
		MinSteps:  c.Steps.MinSteps,
		MaxSteps:  c.Steps.MaxSteps,
	}
}

// RunSettings assembles the calibration runner settings.
func (c *Config) RunSettings() calibrate.Settings {
	mode := calibrate.ModeAuto
	if c.Calibration.Mode == "step" {
		mode = calibrate.ModeStep
	}
	return calibrate.Settings{
		Grid:                c.Grid,
		View:                c.SpaceView(),
		Gap:                 c.Calibration.Gap,
		MADThreshold:        c.Calibration.MADThreshold,
		DisableRobustSizing: c.Calibration.DisableRobustSizing,
		Steps:               c.StepSettings(),
		StepTestSteps:       c.Calibration.StepTestSteps,
		AsideSteps:          c.Calibration.AsideSteps,
		Retries:             c.Calibration.Retries,
		RetryDelay:          time.Duration(c.Calibration.RetryDelayMs) * time.Millisecond,
		SettleDelay:         time.Duration(c.Calibration.SettleDelayMs) * time.Millisecond,
		CaptureTimeout:      time.Duration(c.Calibration.CaptureTimeoutMs) * time.Millisecond,
		MaxMatchDistance:    c.Calibration.MaxMatchDistance,
		Mode:                mode,
	}
}

// RetryDelay returns the capture retry delay duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Calibration.RetryDelayMs) * time.Millisecond
}

// SettleDelay returns the post-move settle duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Calibration.SettleDelayMs) * time.Millisecond
}
