package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeIndexMatchesFileOrder(t *testing.T) {
	s := Shape{Width: 4, Height: 3, Depth: 2}

	// x varies fastest, then y, then z
	assert.Equal(t, 0, s.Index(0, 0, 0))
	assert.Equal(t, 1, s.Index(1, 0, 0))
	assert.Equal(t, 4, s.Index(0, 1, 0))
	assert.Equal(t, 12, s.Index(0, 0, 1))
	assert.Equal(t, s.Len()-1, s.Index(3, 2, 1))
}

func TestVolumeThresholdIsStrict(t *testing.T) {
	v := NewVolume(Shape{Width: 3, Height: 1, Depth: 1})
	v.Set(0, 0, 0, 10)
	v.Set(1, 0, 0, 11)
	v.Set(2, 0, 0, 9)

	m := v.Threshold(10)
	assert.Equal(t, []bool{false, true, false}, m.Data)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 11.0, v.Max())
	assert.Equal(t, DefaultSpacing, v.Spacing)
}

func TestLabelVolumeBounds(t *testing.T) {
	l := NewLabelVolume(Shape{Width: 2, Height: 2, Depth: 2})
	l.Set(Point{1, 1, 1}, 7)

	k, err := l.At(Point{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 7, k)
	assert.Equal(t, 7, l.Max())

	_, err = l.At(Point{2, 0, 0})
	assert.Error(t, err)
	_, err = l.At(Point{0, -1, 0})
	assert.Error(t, err)
}

func TestPointSetDeduplicates(t *testing.T) {
	s := NewPointSet(Point{1, 2, 3}, Point{0, 0, 0}, Point{1, 2, 3})
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Add(Point{0, 0, 0}))
	assert.True(t, s.Add(Point{0, 0, 1}))

	// union with itself is a no-op
	before := s.Points()
	s.Union(s)
	assert.Equal(t, before, s.Points())

	assert.Equal(t, []Point{{0, 0, 0}, {0, 0, 1}, {1, 2, 3}}, s.Points())
}

func TestSegmentedPointSetCopies(t *testing.T) {
	seg := NewSegmentedPointSet([][]Point{{{0, 0, 0}}, {}}, 3)
	require.Equal(t, 2, seg.NumSegments())

	got := seg.Segment(1)
	got[0] = Point{9, 9, 9}
	assert.Equal(t, []Point{{0, 0, 0}}, seg.Segment(1))
	assert.Empty(t, seg.Segment(2))
	assert.Nil(t, seg.Segment(3))
	assert.Equal(t, 1, seg.Total())
	assert.Equal(t, 3, seg.Background)
}
