package profile

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/HelioGo/internal/grid"
	"github.com/cjeanneret/HelioGo/internal/space"
	"github.com/cjeanneret/HelioGo/internal/vision"
)

func sampleProfile() *Profile {
	g := grid.Size{Rows: 2, Cols: 2}
	perStep := 0.0005
	summary := grid.ComputeTileSummary(
		grid.NewAddress(g, 0, 1),
		&vision.BlobMeasurement{X: 0.1, Y: -0.2, Size: 0.2, SourceWidth: 1000, SourceHeight: 1000},
		grid.AxisSlopes{X: &perStep, Y: &perStep},
		0.001,
		&grid.Blueprint{
			Grid: g, TileSize: 0.2, TileWidth: 0.2, TileHeight: 0.2,
			PitchX: 0.3, PitchY: 0.3,
			Origin: space.Point{X: -0.3, Y: -0.3},
		},
		grid.StepSettings{HomeSteps: 1000, MinSteps: 0, MaxSteps: 2000},
	)

	return &Profile{
		Grid: g,
		View: space.View{Aspect: 16.0 / 9.0, Rotation: 90},
		Blueprint: &grid.Blueprint{
			Grid: g, TileSize: 0.2, TileWidth: 0.2, TileHeight: 0.2,
			Gap: 0.1, PitchX: 0.3, PitchY: 0.3,
			Origin:       space.Point{X: -0.3, Y: -0.3},
			CameraOffset: space.Point{X: 0.01, Y: -0.02},
		},
		Steps:    grid.StepSettings{HomeSteps: 1000, MinSteps: 0, MaxSteps: 2000},
		StepTest: StepTestSettings{Steps: 50},
		Tiles: map[grid.TileKey]*TileResult{
			g.Key(0, 1): {
				Status:  TileCompleted,
				Summary: &summary,
			},
			g.Key(1, 0): {
				Status:  TileFailed,
				Message: "no blob detected after 3 attempts",
			},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	p := sampleProfile()
	p.ID = "test-id"
	p.CreatedAt = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	data, err := p.Encode()
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)

	if diff := cmp.Diff(p, back); diff != "" {
		t.Errorf("profile changed across round trip (-want +got):\n%s", diff)
	}
}

func TestStore_SaveAssignsIDAndTimestamp(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer store.Close()

	p := sampleProfile()
	require.NoError(t, store.Save(p))
	require.NotEmpty(t, p.ID)
	require.False(t, p.CreatedAt.IsZero())
}

func TestStore_SaveLoad(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer store.Close()

	p := sampleProfile()
	require.NoError(t, store.Save(p))

	back, err := store.Load(p.ID)
	require.NoError(t, err)

	if diff := cmp.Diff(p, back); diff != "" {
		t.Errorf("profile changed across store round trip (-want +got):\n%s", diff)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load("nope")
	require.True(t, errors.Is(err, ErrNotFound), "err = %v, want ErrNotFound", err)
}

func TestStore_ListNewestFirstAndLatest(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer store.Close()

	older := sampleProfile()
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(older))

	newer := sampleProfile()
	require.NoError(t, store.Save(newer))

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, newer.ID, metas[0].ID)
	require.Equal(t, older.ID, metas[1].ID)

	latest, err := store.Latest()
	require.NoError(t, err)
	require.Equal(t, newer.ID, latest.ID)
}

func TestStore_SaveOverwritesSameID(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer store.Close()

	p := sampleProfile()
	require.NoError(t, store.Save(p))

	p.StepTest.Steps = 99
	require.NoError(t, store.Save(p))

	back, err := store.Load(p.ID)
	require.NoError(t, err)
	require.Equal(t, 99, back.StepTest.Steps)

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
}

func TestStore_Delete(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer store.Close()

	p := sampleProfile()
	require.NoError(t, store.Save(p))
	require.NoError(t, store.Delete(p.ID))

	_, err = store.Load(p.ID)
	require.True(t, errors.Is(err, ErrNotFound))

	err = store.Delete(p.ID)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestTileStatus_Terminal(t *testing.T) {
	terminal := []TileStatus{TileCompleted, TileFailed, TileSkipped}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []TileStatus{TilePending, TileStaged, TileMeasuring} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestTileResult_Calibrated(t *testing.T) {
	p := sampleProfile()
	if !p.Tile(p.Grid.Key(0, 1)).Calibrated() {
		t.Error("completed tile with slopes should be calibrated")
	}
	if p.Tile(p.Grid.Key(1, 0)).Calibrated() {
		t.Error("failed tile should not be calibrated")
	}
	var nilResult *TileResult
	if nilResult.Calibrated() {
		t.Error("nil result should not be calibrated")
	}
	if p.CalibratedCount() != 1 {
		t.Errorf("CalibratedCount = %d, want 1", p.CalibratedCount())
	}
}
