// Package pipeline runs a complete foci analysis: load the image, extract
// points, optionally split them by a segmentation, write the statistics
// and save coordinate files in physical units.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"fociscan/internal/logging"
	"fociscan/internal/models"
	"fociscan/pkg/config"
	"fociscan/pkg/coords"
	"fociscan/pkg/extraction"
	"fociscan/pkg/imageio"
	"fociscan/pkg/labeling"
	"fociscan/pkg/report"
	"fociscan/pkg/segments"
	"fociscan/pkg/spacing"
)

// ErrShapeMismatch means the segmentation does not cover the analyzed image.
var ErrShapeMismatch = errors.New("segmentation shape differs from image shape")

// Params holds the analysis parameters.
type Params struct {
	// ImagePath is the volume to analyze.
	ImagePath string

	// SegmentsPath is an optional segmentation volume of the same shape.
	SegmentsPath string

	// OutputDir receives every output file.
	OutputDir string

	// MinValue is the first threshold of the scan.
	MinValue float64

	// MaxValue replaces the brightest voxel as scan limit when non-zero.
	MaxValue float64

	// StepSize is the threshold increment.
	StepSize float64

	// SingleStep runs a single threshold when non-zero.
	SingleStep float64

	// MinSize is the smallest region in voxels that yields a point.
	MinSize int

	// NumWorkers is the number of thresholds processed concurrently.
	NumWorkers int

	// SaveAll writes the points of every threshold to its own file.
	// Only available with one worker.
	SaveAll bool

	// SaveStats writes the statistics file, as YAML when StatsYAML is set.
	SaveStats bool
	StatsYAML bool

	// Compress gzips coordinate files.
	Compress bool

	// Connectivity of the default labeler.
	Connectivity labeling.Connectivity

	// Output selects the coordinate file format.
	Output coords.Options

	// Spacing replaces the image spacing when not nil.
	Spacing *models.Spacing
}

// ParamsFromConfig converts a validated configuration into Params.
func ParamsFromConfig(cfg *config.Config) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out, err := coords.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	out.XYZ.MoleculeName = cfg.Output.MoleculeName
	out.PDB.Connect = cfg.Output.Connect

	conn, err := labeling.ParseConnectivity(cfg.Scan.Connectivity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	p := &Params{
		ImagePath:    cfg.Input.Image,
		SegmentsPath: cfg.Input.Segments,
		OutputDir:    cfg.Output.Dir,
		MinValue:     cfg.Scan.MinValue,
		MaxValue:     cfg.Scan.MaxValue,
		StepSize:     cfg.Scan.StepSize,
		SingleStep:   cfg.Scan.SingleStep,
		MinSize:      cfg.Scan.MinSize,
		NumWorkers:   cfg.Scan.Threads,
		SaveAll:      cfg.Scan.SaveAll,
		SaveStats:    cfg.Output.SaveStats,
		StatsYAML:    strings.EqualFold(cfg.Output.StatsFormat, "yaml"),
		Compress:     cfg.Output.Compress,
		Connectivity: conn,
		Output:       out,
	}
	if len(cfg.Output.Spacing) == 3 {
		p.Spacing = &models.Spacing{cfg.Output.Spacing[0], cfg.Output.Spacing[1], cfg.Output.Spacing[2]}
	}
	return p, nil
}

// Result is what a finished analysis produced.
type Result struct {
	// Points are the deduplicated voxel coordinates
	Points *models.PointSet

	// Segments is nil without a segmentation
	Segments *models.SegmentedPointSet

	Stats *report.Statistics

	// Files lists every file written, in order
	Files []string
}

// Analyzer runs the analysis steps in order:
// 1. Loading the image (and the segmentation, if any)
// 2. Extracting points with a multistep scan or a single threshold
// 3. Splitting points by segment
// 4. Writing statistics
// 5. Applying spacing and writing coordinate files
type Analyzer struct {
	params  *Params
	log     *slog.Logger
	labeler labeling.Labeler

	volume        *models.Volume
	maxBrightness float64
	segmentation  *models.LabelVolume

	result Result
}

// NewAnalyzer creates an analyzer. A nil logger discards output.
func NewAnalyzer(params *Params, log *slog.Logger) *Analyzer {
	if log == nil {
		log = logging.Discard()
	}
	return &Analyzer{
		params:  params,
		log:     log,
		labeler: &labeling.ConnectedComponents{Connectivity: params.Connectivity},
	}
}

// SetLabeler replaces the connected-components labeler.
func (a *Analyzer) SetLabeler(l labeling.Labeler) {
	a.labeler = l
}

// Result returns what Process produced.
func (a *Analyzer) Result() *Result {
	return &a.result
}

// Process runs the complete analysis.
func (a *Analyzer) Process(ctx context.Context) error {
	start := time.Now()

	// Unknown formats are rejected before anything is read
	if err := imageio.CheckFormat(a.params.ImagePath); err != nil {
		return err
	}
	if a.params.SegmentsPath != "" {
		if err := imageio.CheckFormat(a.params.SegmentsPath); err != nil {
			return fmt.Errorf("segmentation: %w", err)
		}
	}
	if err := os.MkdirAll(a.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	a.log.Info("Step 1: loading image", "path", a.params.ImagePath)
	if err := a.load(); err != nil {
		return err
	}

	a.log.Info("Step 2: extracting points")
	points, err := a.extract(ctx)
	if err != nil {
		return fmt.Errorf("failed to extract points: %w", err)
	}
	a.result.Points = points
	a.log.Info("points found", "count", points.Len())

	if a.segmentation != nil {
		a.log.Info("Step 3: splitting points by segment")
		seg, err := segments.Partition(points.Points(), a.segmentation)
		if err != nil {
			return fmt.Errorf("failed to split points into segments: %w", err)
		}
		a.result.Segments = seg
		a.log.Info("segments assigned",
			"segments", seg.NumSegments(),
			"assigned", seg.Total(),
			"background", seg.Background)
	}

	a.result.Stats = a.statistics()
	if a.params.SaveStats {
		a.log.Info("Step 4: writing statistics")
		if err := a.writeStatistics(); err != nil {
			return err
		}
	}

	a.log.Info("Step 5: writing coordinates")
	if err := a.writePoints(); err != nil {
		return err
	}

	a.log.Info("analysis finished",
		"points", points.Len(),
		"files", len(a.result.Files),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *Analyzer) load() error {
	vol, maxBright, err := imageio.LoadVolume(a.params.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	if a.params.Spacing != nil {
		vol.Spacing = *a.params.Spacing
	}
	a.volume = vol
	a.maxBrightness = maxBright

	a.log.Info("image loaded",
		"shape", vol.Shape.String(),
		"voxels", humanize.Comma(int64(vol.Len())),
		"maxBrightness", maxBright,
		"spacing", fmt.Sprint(vol.Spacing))

	if a.params.SegmentsPath == "" {
		return nil
	}

	seg, err := imageio.LoadSegmentation(a.params.SegmentsPath)
	if err != nil {
		return fmt.Errorf("failed to load segmentation: %w", err)
	}
	if seg.Shape != vol.Shape {
		return fmt.Errorf("%w: segmentation %v, image %v", ErrShapeMismatch, seg.Shape, vol.Shape)
	}
	a.segmentation = seg
	a.log.Info("segmentation loaded", "path", a.params.SegmentsPath, "segments", seg.Max())
	return nil
}

func (a *Analyzer) extract(ctx context.Context) (*models.PointSet, error) {
	limit := a.maxBrightness
	if a.params.MaxValue != 0 {
		limit = a.params.MaxValue
	}

	scanParams := extraction.ScanParams{
		MinThreshold:     a.params.MinValue,
		MaxThreshold:     extraction.UpperBound(limit),
		StepSize:         a.params.StepSize,
		MinRegionSize:    a.params.MinSize,
		Concurrency:      a.params.NumWorkers,
		SaveIntermediate: a.params.SaveAll,
	}
	scanner := extraction.NewScanner(scanParams,
		extraction.WithLabeler(a.labeler),
		extraction.WithLogger(a.log),
		extraction.WithSink(&stepSink{a: a}))

	if a.params.SingleStep != 0 {
		return scanner.Single(a.volume, a.params.SingleStep)
	}
	return scanner.Scan(ctx, a.volume)
}

func (a *Analyzer) statistics() *report.Statistics {
	s := report.New(filepath.Base(a.basePath()))
	s.MinRegionSize = a.params.MinSize
	s.MinValue = a.params.MinValue
	s.MaxValue = a.maxBrightness
	s.StepSize = a.params.StepSize
	s.SingleStep = a.params.SingleStep
	s.Shape = a.volume.Shape
	s.Spacing = a.volume.Spacing
	s.PointCount = a.result.Points.Len()
	if a.result.Segments != nil {
		s.SetSegments(a.result.Segments)
	}
	return s
}

func (a *Analyzer) writeStatistics() error {
	path := a.basePath() + "_statistics.txt"
	if a.params.StatsYAML {
		path = a.basePath() + "_statistics.yaml"
	}
	if err := a.result.Stats.Save(path, a.params.StatsYAML); err != nil {
		return err
	}
	a.result.Files = append(a.result.Files, path)
	return nil
}

func (a *Analyzer) writePoints() error {
	if a.result.Segments != nil {
		for i, bucket := range spacing.ApplySegments(a.result.Segments, a.volume.Spacing) {
			if err := a.write(fmt.Sprintf("_segment_%d", i+1), bucket); err != nil {
				return err
			}
		}
	}

	suffix := "_all_points"
	if a.params.SingleStep != 0 {
		suffix = "_brightness_" + formatThreshold(a.params.SingleStep)
	}
	return a.write(suffix, spacing.Apply(a.result.Points.Points(), a.volume.Spacing))
}

func (a *Analyzer) write(suffix string, points []models.Coord) error {
	path := a.basePath() + suffix + a.params.Output.Extension()
	if a.params.Compress {
		path += ".gz"
	}
	if err := coords.Write(path, points, a.params.Output); err != nil {
		return err
	}
	a.result.Files = append(a.result.Files, path)
	a.log.Debug("file saved", "path", path, "points", len(points))
	return nil
}

// basePath is the output directory joined with the image name without
// its extension.
func (a *Analyzer) basePath() string {
	name := filepath.Base(filepath.Clean(a.params.ImagePath))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(a.params.OutputDir, name)
}

func formatThreshold(t float64) string {
	return strings.ReplaceAll(fmt.Sprintf("%g", t), ".", "_")
}

// stepSink writes the points of each threshold of a sequential scan.
type stepSink struct {
	a *Analyzer
}

func (s *stepSink) WriteStep(threshold float64, points []models.Point) error {
	return s.a.write("_brightness_"+formatThreshold(threshold), spacing.Apply(points, s.a.volume.Spacing))
}
