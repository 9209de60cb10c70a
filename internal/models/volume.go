package models

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Shape holds the extent of a 3D grid along x, y and z.
//
// Voxels are stored flat in file order (z, y, x) with x varying fastest,
// so the voxel at (x, y, z) lives at z*Width*Height + y*Width + x.
type Shape struct {
	// Width is the extent along x
	Width int

	// Height is the extent along y
	Height int

	// Depth is the extent along z
	Depth int
}

// Len returns the number of voxels covered by the shape.
func (s Shape) Len() int {
	return s.Width * s.Height * s.Depth
}

// Index returns the flat storage index of (x, y, z).
func (s Shape) Index(x, y, z int) int {
	return z*s.Width*s.Height + y*s.Width + x
}

// Contains reports whether p lies inside the grid.
func (s Shape) Contains(p Point) bool {
	return p[0] >= 0 && p[0] < s.Width &&
		p[1] >= 0 && p[1] < s.Height &&
		p[2] >= 0 && p[2] < s.Depth
}

// String renders the shape as (x, y, z).
func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Width, s.Height, s.Depth)
}

// Spacing is the physical size of a voxel along x, y and z.
type Spacing [3]float64

// DefaultSpacing is used when the source format carries no physical units.
var DefaultSpacing = Spacing{1, 1, 1}

// Volume is a 3D brightness image. It is read-only once loaded and is
// shared between concurrent extraction workers without locking.
type Volume struct {
	// Data holds brightness values in flat storage order
	Data []float64

	Shape

	// Spacing converts voxel indices to physical units
	Spacing Spacing
}

// NewVolume allocates a zeroed volume with default spacing.
func NewVolume(shape Shape) *Volume {
	return &Volume{
		Data:    make([]float64, shape.Len()),
		Shape:   shape,
		Spacing: DefaultSpacing,
	}
}

// At returns the brightness at (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores the brightness at (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Max returns the brightest value in the volume, or 0 for an empty volume.
func (v *Volume) Max() float64 {
	if len(v.Data) == 0 {
		return 0
	}
	return floats.Max(v.Data)
}

// Threshold builds the foreground mask of voxels strictly brighter than t.
func (v *Volume) Threshold(t float64) *Mask {
	m := &Mask{Data: make([]bool, len(v.Data)), Shape: v.Shape}
	for i, value := range v.Data {
		m.Data[i] = value > t
	}
	return m
}

// Mask is a boolean voxel grid.
type Mask struct {
	Data []bool
	Shape
}

// Count returns the number of set voxels.
func (m *Mask) Count() int {
	n := 0
	for _, set := range m.Data {
		if set {
			n++
		}
	}
	return n
}

// LabelVolume is an integer voxel grid where 0 is background and k > 0
// marks region or segment k.
type LabelVolume struct {
	Data []int
	Shape
}

// NewLabelVolume allocates an all-background label volume.
func NewLabelVolume(shape Shape) *LabelVolume {
	return &LabelVolume{Data: make([]int, shape.Len()), Shape: shape}
}

// At returns the label of voxel p. Points outside the grid are an error.
func (l *LabelVolume) At(p Point) (int, error) {
	if !l.Contains(p) {
		return 0, fmt.Errorf("point %v outside label volume %v", p, l.Shape)
	}
	return l.Data[l.Index(p[0], p[1], p[2])], nil
}

// Set stores label k at p.
func (l *LabelVolume) Set(p Point, k int) {
	l.Data[l.Index(p[0], p[1], p[2])] = k
}

// Max returns the largest label present.
func (l *LabelVolume) Max() int {
	maxLabel := 0
	for _, k := range l.Data {
		if k > maxLabel {
			maxLabel = k
		}
	}
	return maxLabel
}
