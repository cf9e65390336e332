package vision

import (
	"errors"
	"math"
	"testing"

	"github.com/cjeanneret/HelioGo/internal/space"
)

const epsilon = 1e-9

func steadySamples(n int, x, y float64) []RawSample {
	samples := make([]RawSample, n)
	for i := range samples {
		// tiny alternating jitter, well inside the stability gate
		jitter := float64(i%2)*2e-4 - 1e-4
		samples[i] = RawSample{
			X:        x + jitter,
			Y:        y - jitter,
			Size:     0.12,
			Response: 0.8,
		}
	}
	return samples
}

func TestAggregate_StableSamplesPass(t *testing.T) {
	m, err := Aggregate(steadySamples(5, 0.25, -0.4), AggregateOptions{
		MinSamples:   3,
		MaxMAD:       0.01,
		SourceWidth:  1920,
		SourceHeight: 1080,
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if !m.Stats.Passed {
		t.Error("Stats.Passed = false, want true")
	}
	if m.Stats.Samples != 5 {
		t.Errorf("Stats.Samples = %d, want 5", m.Stats.Samples)
	}
	if math.Abs(m.X-0.25) > 1e-3 || math.Abs(m.Y-(-0.4)) > 1e-3 {
		t.Errorf("position = (%v, %v), want near (0.25, -0.4)", m.X, m.Y)
	}
	if m.SourceWidth != 1920 || m.SourceHeight != 1080 {
		t.Errorf("source = %dx%d, want 1920x1080", m.SourceWidth, m.SourceHeight)
	}
}

func TestAggregate_UnstableSamplesFail(t *testing.T) {
	// Samples split between two distant positions: the per-axis MAD
	// explodes and aggregation must refuse rather than average.
	samples := []RawSample{
		{X: 0.2, Y: 0.0, Size: 0.1},
		{X: 0.2, Y: 0.0, Size: 0.1},
		{X: -0.6, Y: 0.0, Size: 0.1},
		{X: -0.6, Y: 0.0, Size: 0.1},
	}
	_, err := Aggregate(samples, AggregateOptions{MinSamples: 3, MaxMAD: 0.01})
	if !errors.Is(err, ErrUnstable) {
		t.Fatalf("err = %v, want ErrUnstable", err)
	}
}

func TestAggregate_UnstableSingleAxis(t *testing.T) {
	// Stable in X, scattered in Y: still a failure.
	samples := []RawSample{
		{X: 0.1, Y: 0.5},
		{X: 0.1, Y: -0.5},
		{X: 0.1, Y: 0.5},
		{X: 0.1, Y: -0.5},
	}
	_, err := Aggregate(samples, AggregateOptions{MinSamples: 3, MaxMAD: 0.01})
	if !errors.Is(err, ErrUnstable) {
		t.Fatalf("err = %v, want ErrUnstable", err)
	}
}

func TestAggregate_TooFewSamples(t *testing.T) {
	_, err := Aggregate(steadySamples(2, 0, 0), AggregateOptions{MinSamples: 3})
	if !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("err = %v, want ErrTooFewSamples", err)
	}
}

func TestAggregate_MedianRejectsSingleBadFrame(t *testing.T) {
	samples := steadySamples(6, 0.0, 0.0)
	// One wild frame; the median keeps the position but the MAD stays
	// small because only one sample deviates.
	samples = append(samples, RawSample{X: 0.9, Y: 0.9, Size: 0.5})

	m, err := Aggregate(samples, AggregateOptions{MinSamples: 3, MaxMAD: 0.01})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if math.Abs(m.X) > 1e-3 || math.Abs(m.Y) > 1e-3 {
		t.Errorf("position = (%v, %v), want near origin", m.X, m.Y)
	}
}

func TestSelectNearest_NoExpectedTakesFirst(t *testing.T) {
	blobs := []*BlobMeasurement{
		{X: 0.5, Y: 0.5},
		{X: -0.5, Y: -0.5},
	}
	got := SelectNearest(blobs, CaptureOptions{})
	if got != blobs[0] {
		t.Errorf("SelectNearest = %+v, want first blob", got)
	}
}

func TestSelectNearest_PicksClosestToExpected(t *testing.T) {
	blobs := []*BlobMeasurement{
		{X: 0.5, Y: 0.5},
		{X: -0.48, Y: -0.51},
		{X: 0.0, Y: 0.0},
	}
	expected := space.Point{X: -0.5, Y: -0.5}
	got := SelectNearest(blobs, CaptureOptions{Expected: &expected})
	if got != blobs[1] {
		t.Errorf("SelectNearest = %+v, want blob near (-0.5, -0.5)", got)
	}
}

func TestSelectNearest_MaxDistanceGate(t *testing.T) {
	blobs := []*BlobMeasurement{
		{X: 0.5, Y: 0.5},
	}
	expected := space.Point{X: -0.5, Y: -0.5}
	got := SelectNearest(blobs, CaptureOptions{Expected: &expected, MaxDistance: 0.1})
	if got != nil {
		t.Errorf("SelectNearest = %+v, want nil (all blobs too far)", got)
	}
}

func TestSelectNearest_Empty(t *testing.T) {
	if got := SelectNearest(nil, CaptureOptions{}); got != nil {
		t.Errorf("SelectNearest(nil) = %+v, want nil", got)
	}
}
