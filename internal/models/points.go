package models

import "sort"

// Point is a voxel coordinate (x, y, z).
type Point [3]int

// Less orders points lexicographically by x, then y, then z.
func (p Point) Less(q Point) bool {
	if p[0] != q[0] {
		return p[0] < q[0]
	}
	if p[1] != q[1] {
		return p[1] < q[1]
	}
	return p[2] < q[2]
}

// Coord is a physical coordinate produced by applying voxel spacing.
type Coord [3]float64

// PointSet is an unordered collection of distinct points.
// The zero value is not usable; call NewPointSet.
type PointSet struct {
	index map[Point]struct{}
}

// NewPointSet returns a set holding the given points with duplicates removed.
func NewPointSet(points ...Point) *PointSet {
	s := &PointSet{index: make(map[Point]struct{}, len(points))}
	for _, p := range points {
		s.Add(p)
	}
	return s
}

// Add inserts p and reports whether it was not already present.
func (s *PointSet) Add(p Point) bool {
	if _, ok := s.index[p]; ok {
		return false
	}
	s.index[p] = struct{}{}
	return true
}

// Union adds every point of other to s.
func (s *PointSet) Union(other *PointSet) {
	if other == nil {
		return
	}
	for p := range other.index {
		s.index[p] = struct{}{}
	}
}

// Contains reports whether p is in the set.
func (s *PointSet) Contains(p Point) bool {
	_, ok := s.index[p]
	return ok
}

// Len returns the number of distinct points.
func (s *PointSet) Len() int {
	return len(s.index)
}

// Points returns the members sorted lexicographically. The slice is a copy.
func (s *PointSet) Points() []Point {
	out := make([]Point, 0, len(s.index))
	for p := range s.index {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// SegmentedPointSet buckets points by segment label. Bucket k-1 holds the
// points of segment k; empty segments keep an empty bucket so indices stay
// stable. It is not modified after construction.
type SegmentedPointSet struct {
	buckets [][]Point

	// Background counts points that fell on label 0 and were dropped
	Background int
}

// NewSegmentedPointSet wraps buckets built by a partitioner.
func NewSegmentedPointSet(buckets [][]Point, background int) *SegmentedPointSet {
	return &SegmentedPointSet{buckets: buckets, Background: background}
}

// NumSegments returns the number of segment buckets.
func (s *SegmentedPointSet) NumSegments() int {
	return len(s.buckets)
}

// Segment returns a copy of the points of segment k (1-based).
func (s *SegmentedPointSet) Segment(k int) []Point {
	if k < 1 || k > len(s.buckets) {
		return nil
	}
	out := make([]Point, len(s.buckets[k-1]))
	copy(out, s.buckets[k-1])
	return out
}

// Total returns the number of points assigned to any segment.
func (s *SegmentedPointSet) Total() int {
	n := 0
	for _, b := range s.buckets {
		n += len(b)
	}
	return n
}
