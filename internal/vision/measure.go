// Package vision defines the measurement side of calibration: the
// blob measurements the optical detector produces, the robust
// aggregation that turns raw per-frame samples into one trusted
// measurement, and the Detector capability interface the calibration
// runner captures through.
//
// The detector itself (image acquisition, blob extraction) lives
// outside this module; anything that can produce raw samples or
// aggregated measurements can drive a calibration.
package vision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/cjeanneret/HelioGo/internal/space"
	"github.com/cjeanneret/HelioGo/internal/stats"
)

var (
	// ErrUnstable is returned when raw samples disagree beyond the
	// configured threshold and cannot be aggregated safely.
	ErrUnstable = errors.New("vision: samples too unstable to aggregate")

	// ErrTooFewSamples is returned when fewer samples than the
	// configured minimum were collected.
	ErrTooFewSamples = errors.New("vision: not enough samples")
)

// RawSample is one per-frame blob observation in centered coordinates.
type RawSample struct {
	X        float64
	Y        float64
	Size     float64
	Response float64
}

// AggregateStats records how an aggregated measurement was produced,
// for diagnostics and persistence.
type AggregateStats struct {
	Samples int     `json:"samples"`
	MaxMAD  float64 `json:"max_mad"` // per-axis stability threshold used
	MedianX float64 `json:"median_x"`
	MedianY float64 `json:"median_y"`
	MADX    float64 `json:"mad_x"`
	MADY    float64 `json:"mad_y"`
	Passed  bool    `json:"passed"`
}

// BlobMeasurement is one aggregated optical measurement in centered
// coordinates. Immutable once produced.
type BlobMeasurement struct {
	X            float64        `json:"x"`
	Y            float64        `json:"y"`
	Size         float64        `json:"size"`
	Response     float64        `json:"response"`
	CapturedAt   time.Time      `json:"captured_at"`
	SourceWidth  int            `json:"source_width"`
	SourceHeight int            `json:"source_height"`
	Stats        AggregateStats `json:"stats"`
}

// Position returns the measurement position as a centered-space point.
func (m *BlobMeasurement) Position() space.Point {
	return space.Point{X: m.X, Y: m.Y}
}

// AggregateOptions configures Aggregate.
type AggregateOptions struct {
	MinSamples   int     // minimum raw samples required; <= 0 uses 3
	MaxMAD       float64 // per-axis normalized MAD stability gate; <= 0 uses 0.01
	SourceWidth  int     // sensor width in pixels
	SourceHeight int     // sensor height in pixels
}

const (
	defaultMinSamples = 3
	defaultMaxMAD     = 0.01
)

// Aggregate folds raw per-frame samples into a single measurement.
// Position and size are per-axis medians, so one or two bad frames do
// not shift the result; the detector response is averaged. If the
// positional spread (normalized MAD) on either axis exceeds the
// stability gate, the aggregation fails with ErrUnstable instead of
// silently averaging outliers.
func Aggregate(samples []RawSample, opts AggregateOptions) (*BlobMeasurement, error) {
	minSamples := opts.MinSamples
	if minSamples <= 0 {
		minSamples = defaultMinSamples
	}
	maxMAD := opts.MaxMAD
	if maxMAD <= 0 {
		maxMAD = defaultMaxMAD
	}

	if len(samples) < minSamples {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrTooFewSamples, len(samples), minSamples)
	}

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	sizes := make([]float64, len(samples))
	responses := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.X
		ys[i] = s.Y
		sizes[i] = s.Size
		responses[i] = s.Response
	}

	medianX := stats.Median(xs)
	medianY := stats.Median(ys)
	madX := normalizedMAD(xs, medianX)
	madY := normalizedMAD(ys, medianY)

	agg := AggregateStats{
		Samples: len(samples),
		MaxMAD:  maxMAD,
		MedianX: medianX,
		MedianY: medianY,
		MADX:    madX,
		MADY:    madY,
	}

	if madX > maxMAD || madY > maxMAD {
		return nil, fmt.Errorf("%w: mad=(%.6f, %.6f) limit=%.6f",
			ErrUnstable, madX, madY, maxMAD)
	}
	agg.Passed = true

	return &BlobMeasurement{
		X:            medianX,
		Y:            medianY,
		Size:         stats.Median(sizes),
		Response:     stat.Mean(responses, nil),
		CapturedAt:   time.Now(),
		SourceWidth:  opts.SourceWidth,
		SourceHeight: opts.SourceHeight,
		Stats:        agg,
	}, nil
}

func normalizedMAD(values []float64, median float64) float64 {
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - median)
	}
	return stats.Median(deviations) * stats.MADScale
}

// CaptureOptions passes acquisition hints to a detector.
type CaptureOptions struct {
	Timeout time.Duration // how long to collect frames before giving up

	// Expected, when set, tells the detector which of several
	// detected blobs belongs to the tile under measurement.
	Expected *space.Point

	// MaxDistance is the furthest a blob may sit from Expected and
	// still be accepted. Ignored when Expected is nil; <= 0 accepts
	// any distance.
	MaxDistance float64
}

// Detector is the capability interface the calibration runner
// captures measurements through. Capture returns (nil, nil) when no
// blob was detected within the timeout, and an error (typically
// wrapping ErrUnstable) when detection failed outright. It must
// observe ctx cancellation promptly.
type Detector interface {
	Capture(ctx context.Context, opts CaptureOptions) (*BlobMeasurement, error)
}

// SelectNearest picks the blob closest to the expected position,
// honoring the max-distance gate. Shared by detector implementations
// that see several candidate blobs at once. Returns nil when no blob
// qualifies.
func SelectNearest(blobs []*BlobMeasurement, opts CaptureOptions) *BlobMeasurement {
	if len(blobs) == 0 {
		return nil
	}
	if opts.Expected == nil {
		return blobs[0]
	}

	var best *BlobMeasurement
	bestDist := math.Inf(1)
	for _, b := range blobs {
		dx := b.X - opts.Expected.X
		dy := b.Y - opts.Expected.Y
		dist := math.Hypot(dx, dy)
		if opts.MaxDistance > 0 && dist > opts.MaxDistance {
			continue
		}
		if dist < bestDist {
			best = b
			bestDist = dist
		}
	}
	return best
}
