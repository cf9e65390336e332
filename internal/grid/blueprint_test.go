package grid

import (
	"math"
	"testing"

	"github.com/cjeanneret/HelioGo/internal/vision"
)

const epsilon = 1e-9

// gridHome builds a home measurement at an exact position with a
// square sensor (no isotropic correction).
func gridHome(s Size, row, col int, x, y, size float64) HomeMeasurement {
	return HomeMeasurement{
		Addr: NewAddress(s, row, col),
		Home: &vision.BlobMeasurement{
			X: x, Y: y, Size: size,
			SourceWidth: 1000, SourceHeight: 1000,
		},
	}
}

// perfectGrid lays out homes exactly on a grid with the given origin.
func perfectGrid(s Size, originX, originY, size, gap float64) []HomeMeasurement {
	pitch := size + gap
	half := size / 2
	var homes []HomeMeasurement
	for row := 0; row < s.Rows; row++ {
		for col := 0; col < s.Cols; col++ {
			homes = append(homes, gridHome(s, row, col,
				originX+float64(col)*pitch+half,
				originY+float64(row)*pitch+half,
				size))
		}
	}
	return homes
}

func TestComputeBlueprint_NoMeasurements(t *testing.T) {
	if bp := ComputeBlueprint(Size{Rows: 2, Cols: 2}, nil, BlueprintOptions{}); bp != nil {
		t.Errorf("blueprint from zero measurements = %+v, want nil", bp)
	}
}

func TestComputeBlueprint_RobustMaxExcludesOutlier(t *testing.T) {
	s := Size{Rows: 1, Cols: 5}
	sizes := []float64{0.1, 0.12, 0.14, 0.16, 1.0}
	var homes []HomeMeasurement
	for i, sz := range sizes {
		homes = append(homes, gridHome(s, 0, i, float64(i)*0.3, 0, sz))
	}

	bp := ComputeBlueprint(s, homes, BlueprintOptions{Gap: 0.02, MADThreshold: 3.0})
	if bp == nil {
		t.Fatal("blueprint is nil")
	}
	if math.Abs(bp.TileSize-0.16) > epsilon {
		t.Errorf("TileSize = %v, want 0.16 (1.0 excluded as outlier)", bp.TileSize)
	}
	if len(bp.Sizing.OutlierKeys) != 1 || bp.Sizing.OutlierKeys[0] != s.Key(0, 4) {
		t.Errorf("OutlierKeys = %v, want [%v]", bp.Sizing.OutlierKeys, s.Key(0, 4))
	}
}

func TestComputeBlueprint_NoOutliersKeepsMax(t *testing.T) {
	s := Size{Rows: 1, Cols: 5}
	sizes := []float64{0.1, 0.12, 0.14, 0.16, 0.18}
	var homes []HomeMeasurement
	for i, sz := range sizes {
		homes = append(homes, gridHome(s, 0, i, float64(i)*0.3, 0, sz))
	}

	bp := ComputeBlueprint(s, homes, BlueprintOptions{Gap: 0.02, MADThreshold: 3.0})
	if math.Abs(bp.TileSize-0.18) > epsilon {
		t.Errorf("TileSize = %v, want 0.18 (no outliers)", bp.TileSize)
	}
}

func TestComputeBlueprint_RobustSizingDisabled(t *testing.T) {
	s := Size{Rows: 1, Cols: 5}
	sizes := []float64{0.1, 0.12, 0.14, 0.16, 1.0}
	var homes []HomeMeasurement
	for i, sz := range sizes {
		homes = append(homes, gridHome(s, 0, i, float64(i)*0.3, 0, sz))
	}

	bp := ComputeBlueprint(s, homes, BlueprintOptions{DisableRobustSizing: true})
	if math.Abs(bp.TileSize-1.0) > epsilon {
		t.Errorf("TileSize = %v, want plain max 1.0", bp.TileSize)
	}
}

func TestComputeBlueprint_SingleTile(t *testing.T) {
	s := Size{Rows: 1, Cols: 1}
	homes := []HomeMeasurement{gridHome(s, 0, 0, 0.0, 0.0, 0.2)}

	bp := ComputeBlueprint(s, homes, BlueprintOptions{Gap: 0.05})
	if bp == nil {
		t.Fatal("blueprint is nil for a single tile")
	}
	// Median of one size degenerates to that value; plain max is used
	// below two tiles.
	if math.Abs(bp.TileSize-0.2) > epsilon {
		t.Errorf("TileSize = %v, want 0.2", bp.TileSize)
	}
}

func TestComputeBlueprint_RecoversCenteredOrigin(t *testing.T) {
	s := Size{Rows: 2, Cols: 2}
	// size 0.2, configured gap 0.05 -> effective gap 0.1, pitch 0.3.
	// Span is 2*0.3 = 0.6, so a centered grid has origin (-0.3, -0.3).
	homes := perfectGrid(s, -0.3, -0.3, 0.2, 0.1)

	bp := ComputeBlueprint(s, homes, BlueprintOptions{Gap: 0.05})
	if math.Abs(bp.PitchX-0.3) > epsilon || math.Abs(bp.PitchY-0.3) > epsilon {
		t.Fatalf("pitch = (%v, %v), want (0.3, 0.3)", bp.PitchX, bp.PitchY)
	}
	if math.Abs(bp.Origin.X-(-0.3)) > epsilon || math.Abs(bp.Origin.Y-(-0.3)) > epsilon {
		t.Errorf("Origin = %+v, want (-0.3, -0.3)", bp.Origin)
	}
	if math.Abs(bp.CameraOffset.X) > epsilon || math.Abs(bp.CameraOffset.Y) > epsilon {
		t.Errorf("CameraOffset = %+v, want (0, 0) for an already centered grid", bp.CameraOffset)
	}
}

func TestComputeBlueprint_CameraOffsetAbsorbsShift(t *testing.T) {
	s := Size{Rows: 2, Cols: 2}
	// Same grid as above shifted by (0.05, -0.02): the offset absorbs
	// the shift, the recentered origin is unchanged.
	homes := perfectGrid(s, -0.3+0.05, -0.3-0.02, 0.2, 0.1)

	bp := ComputeBlueprint(s, homes, BlueprintOptions{Gap: 0.05})
	if math.Abs(bp.CameraOffset.X-0.05) > epsilon || math.Abs(bp.CameraOffset.Y-(-0.02)) > epsilon {
		t.Errorf("CameraOffset = %+v, want (0.05, -0.02)", bp.CameraOffset)
	}
	if math.Abs(bp.Origin.X-(-0.3)) > epsilon || math.Abs(bp.Origin.Y-(-0.3)) > epsilon {
		t.Errorf("Origin = %+v, want (-0.3, -0.3)", bp.Origin)
	}
}

func TestComputeBlueprint_MedianOriginRobustToBadTile(t *testing.T) {
	s := Size{Rows: 2, Cols: 2}
	homes := perfectGrid(s, -0.3, -0.3, 0.2, 0.1)
	// Push one tile's measured position well off grid.
	homes[3].Home.X += 0.2

	bp := ComputeBlueprint(s, homes, BlueprintOptions{Gap: 0.05})
	// Median of implied origins {a, a, a, a+0.2} stays at a.
	if math.Abs(bp.Origin.X-(-0.3)) > epsilon {
		t.Errorf("Origin.X = %v, want -0.3 (median robust to one bad tile)", bp.Origin.X)
	}
}

func TestComputeBlueprint_IsotropicCorrection(t *testing.T) {
	s := Size{Rows: 1, Cols: 2}
	homes := []HomeMeasurement{
		{Addr: NewAddress(s, 0, 0), Home: &vision.BlobMeasurement{X: -0.2, Y: 0, Size: 0.2, SourceWidth: 2000, SourceHeight: 1000}},
		{Addr: NewAddress(s, 0, 1), Home: &vision.BlobMeasurement{X: 0.2, Y: 0, Size: 0.2, SourceWidth: 2000, SourceHeight: 1000}},
	}

	bp := ComputeBlueprint(s, homes, BlueprintOptions{Gap: 0.05})
	// avg dimension 1500: fx = 0.75, fy = 1.5.
	pitch := 0.2 + 0.1
	if math.Abs(bp.PitchX-pitch*0.75) > epsilon {
		t.Errorf("PitchX = %v, want %v", bp.PitchX, pitch*0.75)
	}
	if math.Abs(bp.PitchY-pitch*1.5) > epsilon {
		t.Errorf("PitchY = %v, want %v", bp.PitchY, pitch*1.5)
	}
	if math.Abs(bp.TileWidth-0.2*0.75) > epsilon || math.Abs(bp.TileHeight-0.2*1.5) > epsilon {
		t.Errorf("footprint = (%v, %v), want (%v, %v)", bp.TileWidth, bp.TileHeight, 0.2*0.75, 0.2*1.5)
	}
}

func TestComputeBlueprint_GapClamped(t *testing.T) {
	s := Size{Rows: 1, Cols: 1}
	homes := []HomeMeasurement{gridHome(s, 0, 0, 0, 0, 0.2)}

	bp := ComputeBlueprint(s, homes, BlueprintOptions{Gap: 0.9})
	// Configured gap clamps to 0.25 and is doubled.
	if math.Abs(bp.Gap-0.5) > epsilon {
		t.Errorf("Gap = %v, want 0.5", bp.Gap)
	}

	bp = ComputeBlueprint(s, homes, BlueprintOptions{Gap: -1})
	if bp.Gap != 0 {
		t.Errorf("Gap = %v, want 0 for negative configured gap", bp.Gap)
	}
}

func TestIdealCenter(t *testing.T) {
	bp := &Blueprint{
		Grid:       Size{Rows: 2, Cols: 2},
		TileWidth:  0.2,
		TileHeight: 0.2,
		PitchX:     0.3,
		PitchY:     0.3,
		Origin:     pt(-0.3, -0.3),
	}
	got := bp.IdealCenter(TileAddress{Row: 1, Col: 0})
	if math.Abs(got.X-(-0.2)) > epsilon || math.Abs(got.Y-0.2) > epsilon {
		t.Errorf("IdealCenter = %+v, want (-0.2, 0.2)", got)
	}
}
