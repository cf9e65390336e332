package grid

import (
	"gonum.org/v1/gonum/floats"

	"github.com/cjeanneret/HelioGo/internal/space"
	"github.com/cjeanneret/HelioGo/internal/stats"
	"github.com/cjeanneret/HelioGo/internal/vision"
)

// HomeMeasurement pairs a tile with its aggregated home measurement.
type HomeMeasurement struct {
	Addr TileAddress
	Home *vision.BlobMeasurement
}

// BlueprintOptions configures blueprint inference.
type BlueprintOptions struct {
	// Gap is the configured normalized gap between tile footprints.
	// Clamped to [0, maxConfiguredGap] before use.
	Gap float64

	// MADThreshold is the robust-sizing outlier cutoff in normalized
	// MADs; <= 0 uses 3.0.
	MADThreshold float64

	// DisableRobustSizing falls back to a plain maximum over all
	// measured blob sizes.
	DisableRobustSizing bool
}

// maxConfiguredGap bounds the configured gap; it is doubled afterwards
// to account for coordinate-space scale, so the effective gap stays
// below half a normalized unit.
const maxConfiguredGap = 0.25

// SizeAnalysis reports how the tile footprint was chosen.
type SizeAnalysis struct {
	Median      float64   `json:"median"`
	MAD         float64   `json:"mad"`
	Cutoff      float64   `json:"cutoff"`
	OutlierKeys []TileKey `json:"outlier_keys,omitempty"`
	Robust      bool      `json:"robust"`
}

// Blueprint is the inferred global grid geometry.
type Blueprint struct {
	Grid Size `json:"grid"`

	// TileSize is the robust-max blob size; TileWidth/TileHeight are
	// the per-axis footprints after isotropic correction.
	TileSize   float64 `json:"tile_size"`
	TileWidth  float64 `json:"tile_width"`
	TileHeight float64 `json:"tile_height"`

	// Gap is the effective (doubled) normalized gap between tiles.
	Gap float64 `json:"gap"`

	// PitchX/PitchY is the center-to-center tile spacing per axis,
	// isotropically corrected.
	PitchX float64 `json:"pitch_x"`
	PitchY float64 `json:"pitch_y"`

	// Origin is the recentered grid origin (top-left corner of cell
	// r0c0) in centered space.
	Origin space.Point `json:"origin"`

	// CameraOffset is the shift that was subtracted from the implied
	// origin so the grid is centered at zero. Measurements must be
	// recentered by subtracting it.
	CameraOffset space.Point `json:"camera_offset"`

	Sizing SizeAnalysis `json:"sizing"`
}

// IdealCenter returns the ideal center of a cell under this
// blueprint: origin + grid index x pitch + half a tile.
func (b *Blueprint) IdealCenter(addr TileAddress) space.Point {
	return space.Point{
		X: b.Origin.X + float64(addr.Col)*b.PitchX + b.TileWidth/2,
		Y: b.Origin.Y + float64(addr.Row)*b.PitchY + b.TileHeight/2,
	}
}

// ComputeBlueprint infers the grid geometry from per-tile home
// measurements. Returns nil when there are no measurements.
//
// The tile footprint is a robust maximum: sizes more than the MAD
// threshold above the median are excluded before taking the max, so a
// single misdetected blob cannot inflate the whole grid. Positions are
// corrected by an isotropic factor derived from the sensor dimensions
// so spacing appears uniform despite anisotropic normalized
// coordinates. The grid origin is the per-axis median of the origins
// implied by each measurement, then recentered so the grid midpoint
// sits at zero.
func ComputeBlueprint(gridSize Size, homes []HomeMeasurement, opts BlueprintOptions) *Blueprint {
	if len(homes) == 0 {
		return nil
	}

	sizes := make([]float64, len(homes))
	for i, h := range homes {
		sizes[i] = h.Home.Size
	}

	tileSize, sizing := robustMaxSize(homes, sizes, opts)

	gap := opts.Gap
	if gap < 0 {
		gap = 0
	}
	if gap > maxConfiguredGap {
		gap = maxConfiguredGap
	}
	gap *= 2

	// The sensor is not square: normalized coordinates compress the
	// longer axis. Scale pitch and half-tile offsets per axis by
	// avgDimension/sourceDimension so physical spacing stays uniform.
	fx, fy := isotropicFactors(homes[0].Home)

	pitch := tileSize + gap
	pitchX := pitch * fx
	pitchY := pitch * fy
	halfX := tileSize / 2 * fx
	halfY := tileSize / 2 * fy

	impliedX := make([]float64, len(homes))
	impliedY := make([]float64, len(homes))
	for i, h := range homes {
		impliedX[i] = h.Home.X - (float64(h.Addr.Col)*pitchX + halfX)
		impliedY[i] = h.Home.Y - (float64(h.Addr.Row)*pitchY + halfY)
	}
	origin := space.Point{
		X: stats.Median(impliedX),
		Y: stats.Median(impliedY),
	}

	// Recenter: shift the origin so the whole grid is centered at zero.
	offset := space.Point{
		X: origin.X + float64(gridSize.Cols)*pitchX/2,
		Y: origin.Y + float64(gridSize.Rows)*pitchY/2,
	}
	origin.X -= offset.X
	origin.Y -= offset.Y

	return &Blueprint{
		Grid:         gridSize,
		TileSize:     tileSize,
		TileWidth:    tileSize * fx,
		TileHeight:   tileSize * fy,
		Gap:          gap,
		PitchX:       pitchX,
		PitchY:       pitchY,
		Origin:       origin,
		CameraOffset: offset,
		Sizing:       sizing,
	}
}

// robustMaxSize returns the maximum inlier blob size. With fewer than
// two measurements or robust sizing disabled, it is the plain maximum.
func robustMaxSize(homes []HomeMeasurement, sizes []float64, opts BlueprintOptions) (float64, SizeAnalysis) {
	if opts.DisableRobustSizing || len(sizes) < 2 {
		return floats.Max(sizes), SizeAnalysis{Robust: false}
	}

	res := stats.DetectOutliers(homes, func(h HomeMeasurement) float64 { return h.Home.Size }, stats.OutlierOptions{
		Threshold: opts.MADThreshold,
		Direction: stats.High,
	})

	analysis := SizeAnalysis{
		Median: res.Median,
		MAD:    res.MAD,
		Cutoff: res.Cutoff,
		Robust: true,
	}
	for _, o := range res.Outliers {
		analysis.OutlierKeys = append(analysis.OutlierKeys, o.Addr.Key)
	}

	if len(res.Inliers) == 0 {
		// Degenerate: everything flagged; keep the plain maximum.
		return floats.Max(sizes), analysis
	}

	inlierSizes := make([]float64, len(res.Inliers))
	for i, h := range res.Inliers {
		inlierSizes[i] = h.Home.Size
	}
	return floats.Max(inlierSizes), analysis
}

// isotropicFactors derives the per-axis position correction from the
// sensor dimensions: avgDimension/sourceWidth and
// avgDimension/sourceHeight. A measurement without source dimensions
// yields no correction.
func isotropicFactors(m *vision.BlobMeasurement) (fx, fy float64) {
	if m.SourceWidth <= 0 || m.SourceHeight <= 0 {
		return 1, 1
	}
	avg := float64(m.SourceWidth+m.SourceHeight) / 2
	return avg / float64(m.SourceWidth), avg / float64(m.SourceHeight)
}
