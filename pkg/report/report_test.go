package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"fociscan/internal/models"
)

func sampleStats() *Statistics {
	s := New("nucleus_21")
	s.MinRegionSize = 2
	s.MinValue = 10
	s.MaxValue = 255
	s.StepSize = 10
	s.Shape = models.Shape{Width: 100, Height: 100, Depth: 30}
	s.Spacing = models.Spacing{0.1, 0.1, 0.3}
	s.PointCount = 42
	return s
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleStats().WriteText(&buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "nucleus_21\n"))
	assert.Contains(t, out, "Minimal connected component size: 2\n")
	assert.Contains(t, out, "Minimal brightness (cutoff): 10\n")
	assert.Contains(t, out, "Maximal brightness of image: 255\n")
	assert.Contains(t, out, "Image size (x,y,z): (100, 100, 30)\n")
	assert.Contains(t, out, "Voxels: 300,000\n")
	assert.Contains(t, out, "Spacing (x,y,z): (0.1, 0.1, 0.3)\n")
	assert.Contains(t, out, "Points found: 42\n")
	assert.NotContains(t, out, "Number of segments")
}

func TestWriteTextWithSegments(t *testing.T) {
	s := sampleStats()
	s.SetSegments(models.NewSegmentedPointSet([][]models.Point{
		{{0, 0, 0}, {1, 0, 0}},
		{},
		{{2, 2, 2}, {3, 3, 3}, {4, 4, 4}, {5, 5, 5}},
	}, 1))

	var buf bytes.Buffer
	require.NoError(t, s.WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, "Number of segments: 3\n")
	assert.Contains(t, out, "Points per segment (mean, sd): 2.00, 2.00\n")
	assert.Contains(t, out, "Points in segments:\n\tSegment 1: 2\n\tSegment 2: 0\n\tSegment 3: 4\n")
}

func TestSaveYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.yaml")
	s := sampleStats()
	s.SegmentCounts = []int{3, 1}
	require.NoError(t, s.Save(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Statistics
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, s.RunID, got.RunID)
	assert.Equal(t, 42, got.PointCount)
	assert.Equal(t, []int{3, 1}, got.SegmentCounts)
	assert.Equal(t, s.Spacing, got.Spacing)
}

func TestRunIDsDiffer(t *testing.T) {
	assert.NotEqual(t, New("a").RunID, New("a").RunID)
}
