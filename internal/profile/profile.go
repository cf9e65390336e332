// Package profile defines the durable output of a calibration run and
// its persistence. A profile outlives the runner that produced it and
// is the only calibration artifact playback planning consumes.
package profile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cjeanneret/HelioGo/internal/grid"
	"github.com/cjeanneret/HelioGo/internal/space"
	"github.com/cjeanneret/HelioGo/internal/vision"
)

// TileStatus is the lifecycle state of a tile within a run.
type TileStatus string

const (
	TilePending   TileStatus = "pending"
	TileStaged    TileStatus = "staged"
	TileMeasuring TileStatus = "measuring"
	TileCompleted TileStatus = "completed"
	TileFailed    TileStatus = "failed"
	TileSkipped   TileStatus = "skipped"
)

// Terminal reports whether the status is a per-tile end state.
func (s TileStatus) Terminal() bool {
	return s == TileCompleted || s == TileFailed || s == TileSkipped
}

// StepTestSettings records how step tests were performed.
type StepTestSettings struct {
	// Steps is the deliberate displacement, in motor steps, applied
	// during each axis step test.
	Steps int `json:"steps"`
}

// TileResult is the per-tile outcome stored in a profile.
type TileResult struct {
	Status   TileStatus              `json:"status"`
	Message  string                  `json:"message,omitempty"`
	Warnings []string                `json:"warnings,omitempty"`
	Home     *vision.BlobMeasurement `json:"home,omitempty"`
	Summary  *grid.TileSummary       `json:"summary,omitempty"`
}

// Calibrated reports whether the tile completed with usable slopes on
// both axes.
func (r *TileResult) Calibrated() bool {
	return r != nil && r.Status == TileCompleted && r.Summary.Calibrated()
}

// Profile is the shareable snapshot of a completed calibration run.
type Profile struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Grid      grid.Size                    `json:"grid"`
	View      space.View                   `json:"view"`
	Blueprint *grid.Blueprint              `json:"blueprint,omitempty"`
	Steps     grid.StepSettings            `json:"steps"`
	StepTest  StepTestSettings             `json:"step_test"`
	Tiles     map[grid.TileKey]*TileResult `json:"tiles"`
}

// Tile returns the result for a tile, nil when absent.
func (p *Profile) Tile(key grid.TileKey) *TileResult {
	if p == nil || p.Tiles == nil {
		return nil
	}
	return p.Tiles[key]
}

// CalibratedCount returns how many tiles are usable for playback.
func (p *Profile) CalibratedCount() int {
	n := 0
	for _, r := range p.Tiles {
		if r.Calibrated() {
			n++
		}
	}
	return n
}

// Encode serializes the profile as indented JSON. Every field listed
// in the schema round-trips losslessly through Encode/Decode.
func (p *Profile) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("profile: encode: %w", err)
	}
	return data, nil
}

// Decode parses a profile previously produced by Encode.
func Decode(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: decode: %w", err)
	}
	return &p, nil
}
