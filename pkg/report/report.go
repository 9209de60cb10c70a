// Package report writes the run statistics file: the parameters used, the
// image geometry and how many points were found overall and per segment.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"fociscan/internal/models"
)

// Statistics describes one analysis run.
type Statistics struct {
	RunID string `yaml:"runId"`

	// Name is the output base name the statistics belong to
	Name string `yaml:"name"`

	MinRegionSize int     `yaml:"minRegionSize"`
	MinValue      float64 `yaml:"minValue"`

	// MaxValue is the brightest voxel of the image, before any margin
	MaxValue float64 `yaml:"maxValue"`
	StepSize float64 `yaml:"stepSize"`

	// SingleStep is the threshold of a single-step run, 0 for a scan
	SingleStep float64 `yaml:"singleStep,omitempty"`

	Shape      models.Shape   `yaml:"shape"`
	Spacing    models.Spacing `yaml:"spacing,flow"`
	PointCount int            `yaml:"pointCount"`

	// SegmentCounts holds the points of segment k at index k-1, nil when
	// no segmentation was applied
	SegmentCounts []int `yaml:"segmentCounts,omitempty,flow"`
}

// New returns statistics stamped with a fresh run id.
func New(name string) *Statistics {
	return &Statistics{RunID: uuid.NewString(), Name: name}
}

// SetSegments records per-segment counts from a partitioned point set.
func (s *Statistics) SetSegments(seg *models.SegmentedPointSet) {
	s.SegmentCounts = make([]int, seg.NumSegments())
	for k := 1; k <= seg.NumSegments(); k++ {
		s.SegmentCounts[k-1] = len(seg.Segment(k))
	}
}

// WriteText writes the human-readable report.
func (s *Statistics) WriteText(w io.Writer) error {
	ew := &errWriter{w: w}
	ew.printf("%s\n", s.Name)
	ew.printf("Run: %s\n", s.RunID)
	ew.printf("Minimal connected component size: %d\n", s.MinRegionSize)
	if s.SingleStep != 0 {
		ew.printf("Single step brightness: %g\n", s.SingleStep)
	} else {
		ew.printf("Minimal brightness (cutoff): %g\n", s.MinValue)
		ew.printf("Step size: %g\n", s.StepSize)
	}
	ew.printf("Maximal brightness of image: %g\n", s.MaxValue)
	ew.printf("Image size (x,y,z): %v\n", s.Shape)
	ew.printf("Voxels: %s\n", humanize.Comma(int64(s.Shape.Len())))
	ew.printf("Spacing (x,y,z): (%g, %g, %g)\n", s.Spacing[0], s.Spacing[1], s.Spacing[2])
	ew.printf("Points found: %d\n", s.PointCount)

	if s.SegmentCounts != nil {
		ew.printf("Number of segments: %d\n", len(s.SegmentCounts))
		if len(s.SegmentCounts) > 0 {
			mean, sd := s.segmentSpread()
			ew.printf("Points per segment (mean, sd): %.2f, %.2f\n", mean, sd)
		}
		ew.printf("Points in segments:\n")
		for i, n := range s.SegmentCounts {
			ew.printf("\tSegment %d: %d\n", i+1, n)
		}
	}
	return ew.err
}

// WriteYAML writes the report as YAML.
func (s *Statistics) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes the report to path, as YAML when asYAML is set.
func (s *Statistics) Save(path string, asYAML bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create statistics file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if asYAML {
		return s.WriteYAML(f)
	}
	return s.WriteText(f)
}

func (s *Statistics) segmentSpread() (mean, sd float64) {
	counts := make([]float64, len(s.SegmentCounts))
	for i, n := range s.SegmentCounts {
		counts[i] = float64(n)
	}
	if len(counts) == 1 {
		return counts[0], 0
	}
	return stat.MeanStdDev(counts, nil)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
