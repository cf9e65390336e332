package calibrate

import (
	"time"

	"github.com/cjeanneret/HelioGo/internal/grid"
	"github.com/cjeanneret/HelioGo/internal/profile"
	"github.com/cjeanneret/HelioGo/internal/space"
	"github.com/cjeanneret/HelioGo/internal/vision"
)

// Phase is the runner's top-level state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseHoming    Phase = "homing"
	PhaseStaging   Phase = "staging"
	PhaseMeasuring Phase = "measuring"
	PhaseAligning  Phase = "aligning"
	PhaseCompleted Phase = "completed"
	PhasePaused    Phase = "paused"
	PhaseAborted   Phase = "aborted"
	PhaseError     Phase = "error"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted || p == PhaseError
}

// Mode selects how the run advances.
type Mode string

const (
	// ModeAuto runs to completion unmoderated.
	ModeAuto Mode = "auto"
	// ModeStep pauses after each unit of work until Advance is called.
	ModeStep Mode = "step"
)

// Settings configures a calibration run.
type Settings struct {
	Grid grid.Size
	View space.View

	// Blueprint inference.
	Gap                 float64
	MADThreshold        float64
	DisableRobustSizing bool

	// Step geometry shared by all axes.
	Steps grid.StepSettings

	// StepTestSteps is the deliberate displacement applied during
	// each axis step test; <= 0 uses 50.
	StepTestSteps int

	// AsideSteps is the X offset from home that parks a tile's blob
	// out of the measurement field while other tiles are measured;
	// 0 uses 200.
	AsideSteps int

	// Capture behavior.
	Retries          int           // attempts per capture; <= 0 uses 3
	RetryDelay       time.Duration // wait between attempts; <= 0 uses 250ms
	SettleDelay      time.Duration // wait after a move before capturing
	CaptureTimeout   time.Duration // per-capture collection window
	MaxMatchDistance float64       // acceptance distance around the expected position

	Mode Mode // empty means ModeAuto
}

func (s Settings) stepTestSteps() int {
	if s.StepTestSteps <= 0 {
		return 50
	}
	return s.StepTestSteps
}

func (s Settings) asideSteps() int {
	if s.AsideSteps == 0 {
		return 200
	}
	return s.AsideSteps
}

func (s Settings) retries() int {
	if s.Retries <= 0 {
		return 3
	}
	return s.Retries
}

func (s Settings) retryDelay() time.Duration {
	if s.RetryDelay <= 0 {
		return 250 * time.Millisecond
	}
	return s.RetryDelay
}

func (s Settings) mode() Mode {
	if s.Mode == ModeStep {
		return ModeStep
	}
	return ModeAuto
}

// TileMetrics accumulates what was learned about a tile during a run.
type TileMetrics struct {
	Home        *vision.BlobMeasurement `json:"home,omitempty"`
	IdealCenter *space.Point            `json:"ideal_center,omitempty"`
	Offset      *space.Point            `json:"offset,omitempty"`
	SlopeX      *float64                `json:"slope_x,omitempty"`
	SlopeY      *float64                `json:"slope_y,omitempty"`
	SizeDelta   float64                 `json:"size_delta,omitempty"`
}

// TileRunState is the runner's mutable per-tile record. It is owned
// exclusively by the runner for the duration of a run; observers only
// ever see copies.
type TileRunState struct {
	Addr     grid.TileAddress   `json:"addr"`
	Status   profile.TileStatus `json:"status"`
	Message  string             `json:"message,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
	Metrics  TileMetrics        `json:"metrics"`
}

// CommandEntry is one issued motor or capture command, for display.
type CommandEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Progress summarizes per-tile completion.
type Progress struct {
	Total     int `json:"total"`     // calibratable tiles in this run
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Snapshot is an immutable view of the run, emitted to the observer
// after every mutation.
type Snapshot struct {
	Phase    Phase          `json:"phase"`
	Tiles    []TileRunState `json:"tiles"`
	Progress Progress       `json:"progress"`
	Log      []CommandEntry `json:"log,omitempty"`
	Err      string         `json:"error,omitempty"`
}

// Observer receives state snapshots. Invoked synchronously from the
// runner; implementations should return quickly.
type Observer func(Snapshot)
