package spacing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fociscan/internal/models"
)

var points = []models.Point{{0, 0, 0}, {1, 2, 3}, {4, 5, 6}}

func TestIdentitySpacing(t *testing.T) {
	got := Apply(points, models.DefaultSpacing)
	for i, p := range points {
		assert.Equal(t, models.Coord{float64(p[0]), float64(p[1]), float64(p[2])}, got[i])
	}
}

func TestApplyIsComponentWise(t *testing.T) {
	got := Apply(points, models.Spacing{0.5, 2, 3})
	require.Len(t, got, len(points))
	assert.Equal(t, models.Coord{2, 10, 18}, got[2])
	// the voxel coordinates are untouched
	assert.Equal(t, models.Point{4, 5, 6}, points[2])
}

func TestApplySegments(t *testing.T) {
	seg := models.NewSegmentedPointSet([][]models.Point{{{1, 1, 1}}, {}, {{0, 2, 0}}}, 0)

	got := ApplySegments(seg, models.Spacing{2, 3, 4})
	require.Len(t, got, 3)
	assert.Equal(t, []models.Coord{{2, 3, 4}}, got[0])
	assert.Empty(t, got[1])
	assert.Equal(t, []models.Coord{{0, 6, 0}}, got[2])

	// the source buckets are untouched
	assert.Equal(t, []models.Point{{1, 1, 1}}, seg.Segment(1))
}
