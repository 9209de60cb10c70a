// Package spacing converts voxel coordinates to physical units.
//
// Every function returns newly allocated coordinates and leaves its input
// untouched.
package spacing

import "fociscan/internal/models"

// Apply multiplies each voxel coordinate component-wise by s.
func Apply(points []models.Point, s models.Spacing) []models.Coord {
	out := make([]models.Coord, len(points))
	for i, p := range points {
		out[i] = models.Coord{
			float64(p[0]) * s[0],
			float64(p[1]) * s[1],
			float64(p[2]) * s[2],
		}
	}
	return out
}

// ApplySegments applies s to every segment bucket. Element k-1 of the
// result holds segment k.
func ApplySegments(seg *models.SegmentedPointSet, s models.Spacing) [][]models.Coord {
	out := make([][]models.Coord, seg.NumSegments())
	for k := 1; k <= seg.NumSegments(); k++ {
		out[k-1] = Apply(seg.Segment(k), s)
	}
	return out
}
