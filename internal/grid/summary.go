package grid

import (
	"math"

	"github.com/cjeanneret/HelioGo/internal/space"
	"github.com/cjeanneret/HelioGo/internal/vision"
)

// DegenerateSlope is the magnitude below which a step-test slope is
// treated as zero. No bounds or step scaling are derived from such a
// slope; the alternative is a division producing Inf/NaN.
const DegenerateSlope = 1e-9

// StepSettings holds the motor step parameters shared by every axis:
// the step count corresponding to the home position and the fixed
// allowable step range.
type StepSettings struct {
	HomeSteps int `yaml:"home_steps" json:"home_steps"`
	MinSteps  int `yaml:"min_steps" json:"min_steps"`
	MaxSteps  int `yaml:"max_steps" json:"max_steps"`
}

// AxisCalibration is the calibrated relation between motor steps and
// normalized displacement for one tile axis.
type AxisCalibration struct {
	// PerStep is the signed normalized displacement per motor step.
	PerStep   float64 `json:"per_step"`
	HomeSteps int     `json:"home_steps"`
	MinSteps  int     `json:"min_steps"`
	MaxSteps  int     `json:"max_steps"`
}

// Usable reports whether the slope is meaningful.
func (a *AxisCalibration) Usable() bool {
	return a != nil && math.Abs(a.PerStep) >= DegenerateSlope
}

// PositionRange projects the extreme step values through the slope,
// anchored at the measured home position, and returns the reachable
// normalized interval clamped to [-1, 1]. ok is false for a
// degenerate slope.
func (a *AxisCalibration) PositionRange(homePos float64) (lo, hi float64, ok bool) {
	if !a.Usable() {
		return 0, 0, false
	}
	c1 := homePos + float64(a.MinSteps-a.HomeSteps)*a.PerStep
	c2 := homePos + float64(a.MaxSteps-a.HomeSteps)*a.PerStep
	lo = math.Min(c1, c2)
	hi = math.Max(c1, c2)
	return clampNormalized(lo), clampNormalized(hi), true
}

func clampNormalized(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// AxisSlopes carries the measured step-test slopes for a tile. A nil
// entry means the step test on that axis produced no usable data.
type AxisSlopes struct {
	X *float64
	Y *float64
}

// TileSummary is the derived per-tile calibration result.
type TileSummary struct {
	Addr TileAddress `json:"addr"`

	// Home is the measured home position, recentered against the
	// blueprint's camera offset.
	Home space.Point `json:"home"`
	Size float64     `json:"size"`

	// IdealCenter is the tile's ideal grid position; Offset is how far
	// the measured home deviates from it.
	IdealCenter space.Point `json:"ideal_center"`
	Offset      space.Point `json:"offset"`

	AxisX *AxisCalibration `json:"axis_x,omitempty"`
	AxisY *AxisCalibration `json:"axis_y,omitempty"`

	// SizeDelta is the largest blob size change observed during the
	// step tests, a proxy for focus drift across the tile's travel.
	SizeDelta float64 `json:"size_delta"`

	// Bounds is the reachable region in normalized position space,
	// nil when either axis has no usable calibration.
	Bounds *space.Bounds `json:"bounds,omitempty"`
}

// Calibrated reports whether both axes carry usable slopes.
func (t *TileSummary) Calibrated() bool {
	return t != nil && t.AxisX.Usable() && t.AxisY.Usable()
}

// ComputeTileSummary derives a tile's calibration summary from its
// home measurement and step-test slopes under the given blueprint.
func ComputeTileSummary(addr TileAddress, home *vision.BlobMeasurement, slopes AxisSlopes, sizeDelta float64, bp *Blueprint, steps StepSettings) TileSummary {
	recentered := space.Point{
		X: home.X - bp.CameraOffset.X,
		Y: home.Y - bp.CameraOffset.Y,
	}
	ideal := bp.IdealCenter(addr)

	summary := TileSummary{
		Addr:        addr,
		Home:        recentered,
		Size:        home.Size,
		IdealCenter: ideal,
		Offset: space.Point{
			X: recentered.X - ideal.X,
			Y: recentered.Y - ideal.Y,
		},
		SizeDelta: sizeDelta,
	}

	if slopes.X != nil {
		summary.AxisX = &AxisCalibration{
			PerStep:   *slopes.X,
			HomeSteps: steps.HomeSteps,
			MinSteps:  steps.MinSteps,
			MaxSteps:  steps.MaxSteps,
		}
	}
	if slopes.Y != nil {
		summary.AxisY = &AxisCalibration{
			PerStep:   *slopes.Y,
			HomeSteps: steps.HomeSteps,
			MinSteps:  steps.MinSteps,
			MaxSteps:  steps.MaxSteps,
		}
	}

	if loX, hiX, okX := summary.AxisX.PositionRange(recentered.X); okX {
		if loY, hiY, okY := summary.AxisY.PositionRange(recentered.Y); okY {
			summary.Bounds = &space.Bounds{MinX: loX, MinY: loY, MaxX: hiX, MaxY: hiY}
		}
	}

	return summary
}
