package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"fociscan/internal/logging"
	"fociscan/internal/models"
	"fociscan/pkg/labeling"
)

// MaxBrightnessMargin is added to the brightest value before scanning so the
// brightest voxels are still foreground at the last threshold.
const MaxBrightnessMargin = 10

var (
	// ErrInvalidParams is returned for a scan range that cannot be walked.
	ErrInvalidParams = errors.New("invalid scan parameters")

	// ErrIntermediateUnsupported is returned when per-threshold results are
	// requested from a concurrent scan.
	ErrIntermediateUnsupported = errors.New("saving intermediate results requires a sequential scan")
)

// IntermediateSink receives the points found at a single threshold during a
// sequential scan.
type IntermediateSink interface {
	WriteStep(threshold float64, points []models.Point) error
}

// ScanParams holds the threshold range and execution settings of a scan.
type ScanParams struct {
	// MinThreshold is the first threshold scanned.
	MinThreshold float64

	// MaxThreshold is the exclusive upper end of the range. Use UpperBound to
	// derive it from the brightest voxel.
	MaxThreshold float64

	// StepSize is the distance between consecutive thresholds.
	StepSize float64

	// MinRegionSize is the smallest region, in voxels, that yields a point.
	MinRegionSize int

	// Concurrency is the number of thresholds processed at once.
	// 1 selects the sequential scan.
	Concurrency int

	// SaveIntermediate hands each threshold's points to the sink.
	// Only valid with Concurrency == 1.
	SaveIntermediate bool
}

// UpperBound returns the exclusive scan limit for a brightest value.
func UpperBound(maxBrightness float64) float64 {
	return maxBrightness + MaxBrightnessMargin
}

// Thresholds lists min, min+step, ... strictly below max. A range that
// fails Validate yields no thresholds.
func (p ScanParams) Thresholds() []float64 {
	if p.StepSize <= 0 || !finite(p.StepSize) || !finite(p.MinThreshold) || !finite(p.MaxThreshold) {
		return nil
	}
	var out []float64
	for i := 0; ; i++ {
		t := p.MinThreshold + float64(i)*p.StepSize
		if t >= p.MaxThreshold {
			break
		}
		out = append(out, t)
	}
	return out
}

// Validate checks the parameters before any work starts.
func (p ScanParams) Validate() error {
	switch {
	case !finite(p.MinThreshold) || !finite(p.MaxThreshold):
		return fmt.Errorf("%w: thresholds %g to %g must be finite", ErrInvalidParams, p.MinThreshold, p.MaxThreshold)
	case !finite(p.StepSize) || p.StepSize <= 0:
		return fmt.Errorf("%w: step size %g must be positive and finite", ErrInvalidParams, p.StepSize)
	case p.Concurrency < 1:
		return fmt.Errorf("%w: concurrency %d must be at least 1", ErrInvalidParams, p.Concurrency)
	case p.MinRegionSize < 0:
		return fmt.Errorf("%w: minimum region size %d is negative", ErrInvalidParams, p.MinRegionSize)
	case p.SaveIntermediate && p.Concurrency > 1:
		return ErrIntermediateUnsupported
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsInf(x, 0) && !math.IsNaN(x)
}

// Scanner runs peak extraction over a range of thresholds and merges the
// results into one deduplicated point set.
type Scanner struct {
	params  ScanParams
	labeler labeling.Labeler
	sink    IntermediateSink
	log     *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLabeler replaces the default connected-components labeler.
func WithLabeler(l labeling.Labeler) Option {
	return func(s *Scanner) { s.labeler = l }
}

// WithSink sets where intermediate per-threshold points go.
func WithSink(sink IntermediateSink) Option {
	return func(s *Scanner) { s.sink = sink }
}

// WithLogger sets the scanner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// NewScanner creates a scanner for the given parameters.
func NewScanner(params ScanParams, opts ...Option) *Scanner {
	s := &Scanner{
		params:  params,
		labeler: labeling.NewConnectedComponents(),
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan walks the threshold range and returns the union of all peaks.
// Concurrency == 1 scans in increasing threshold order; higher values
// spread thresholds over a worker pool. Both return the same set.
func (s *Scanner) Scan(ctx context.Context, v *models.Volume) (*models.PointSet, error) {
	if err := s.params.Validate(); err != nil {
		return nil, err
	}
	if s.params.SaveIntermediate && s.sink == nil {
		return nil, fmt.Errorf("%w: intermediate results requested without a sink", ErrInvalidParams)
	}

	thresholds := s.params.Thresholds()
	s.log.Info("starting multistep scan",
		"thresholds", len(thresholds),
		"min", s.params.MinThreshold,
		"max", s.params.MaxThreshold,
		"step", s.params.StepSize,
		"workers", s.params.Concurrency)

	if s.params.Concurrency == 1 {
		return s.scanSequential(ctx, v, thresholds)
	}
	return s.scanConcurrent(ctx, v, thresholds)
}

// Single runs one threshold step and returns its points as a set.
func (s *Scanner) Single(v *models.Volume, threshold float64) (*models.PointSet, error) {
	if s.params.MinRegionSize < 0 {
		return nil, fmt.Errorf("%w: minimum region size %d is negative", ErrInvalidParams, s.params.MinRegionSize)
	}
	if !finite(threshold) {
		return nil, fmt.Errorf("%w: threshold %g must be finite", ErrInvalidParams, threshold)
	}
	points, err := ExtractPeaks(v, threshold, s.params.MinRegionSize, s.labeler)
	if err != nil {
		return nil, err
	}
	s.log.Info("single step finished", "threshold", threshold, "points", len(points))
	return models.NewPointSet(points...), nil
}

func (s *Scanner) scanSequential(ctx context.Context, v *models.Volume, thresholds []float64) (*models.PointSet, error) {
	result := models.NewPointSet()

	for _, t := range thresholds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		points, err := ExtractPeaks(v, t, s.params.MinRegionSize, s.labeler)
		if err != nil {
			return nil, err
		}
		s.log.Debug("threshold processed", "threshold", t, "points", len(points))

		if len(points) == 0 {
			s.log.Info("no points found", "threshold", t)
			continue
		}

		if s.params.SaveIntermediate {
			if err := s.sink.WriteStep(t, points); err != nil {
				return nil, fmt.Errorf("saving points for threshold %g: %w", t, err)
			}
		}

		for _, p := range points {
			result.Add(p)
		}
	}

	return result, nil
}

func (s *Scanner) scanConcurrent(ctx context.Context, v *models.Volume, thresholds []float64) (*models.PointSet, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Concurrency)

	var mu sync.Mutex
	result := models.NewPointSet()

	for _, t := range thresholds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			points, err := ExtractPeaks(v, t, s.params.MinRegionSize, s.labeler)
			if err != nil {
				return err
			}
			s.log.Debug("threshold processed", "threshold", t, "points", len(points))

			mu.Lock()
			for _, p := range points {
				result.Add(p)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("concurrent scan failed: %w", err)
	}
	return result, nil
}
