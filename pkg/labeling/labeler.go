// Package labeling finds connected foreground regions in a voxel mask.
//
// The extraction code only depends on the Labeler interface, so tests can
// inject deterministic fakes and callers can plug in a different labeling
// backend. ConnectedComponents is the default implementation.
package labeling

import (
	"fmt"
	"sort"

	"fociscan/internal/models"
)

// Labeler turns a boolean mask into a label volume. Regions smaller than
// minSize voxels are removed (left as background); surviving regions carry
// unique labels 1..N.
type Labeler interface {
	Label(mask *models.Mask, minSize int) (*models.LabelVolume, error)
}

// Connectivity selects which neighbours join a voxel to a region.
type Connectivity int

const (
	// Face joins voxels sharing a face (6 neighbours)
	Face Connectivity = 6

	// Full joins voxels sharing a face, edge or corner (26 neighbours)
	Full Connectivity = 26
)

// ParseConnectivity maps 6 or 26 to a Connectivity.
func ParseConnectivity(n int) (Connectivity, error) {
	switch Connectivity(n) {
	case Face, Full:
		return Connectivity(n), nil
	}
	return 0, fmt.Errorf("unsupported connectivity %d, want 6 or 26", n)
}

// ConnectedComponents labels regions by breadth-first flood fill, drops
// regions below the size floor and renumbers the rest by decreasing size.
// Equal-sized regions keep their discovery order.
type ConnectedComponents struct {
	Connectivity Connectivity
}

// NewConnectedComponents returns a labeler with face connectivity.
func NewConnectedComponents() *ConnectedComponents {
	return &ConnectedComponents{Connectivity: Face}
}

// Label implements Labeler.
func (c *ConnectedComponents) Label(mask *models.Mask, minSize int) (*models.LabelVolume, error) {
	if mask == nil {
		return nil, fmt.Errorf("nil mask")
	}
	if len(mask.Data) != mask.Len() {
		return nil, fmt.Errorf("mask holds %d voxels, shape %v needs %d", len(mask.Data), mask.Shape, mask.Len())
	}

	offsets, err := c.offsets()
	if err != nil {
		return nil, err
	}

	labels := models.NewLabelVolume(mask.Shape)
	w, h, d := mask.Width, mask.Height, mask.Depth

	// Pass 1: flood fill in storage order, labels in discovery order
	var sizes []int
	queue := make([]int, 0, 1024)
	next := 0
	for start, set := range mask.Data {
		if !set || labels.Data[start] != 0 {
			continue
		}

		next++
		labels.Data[start] = next
		queue = append(queue[:0], start)
		size := 0

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			size++

			x := cur % w
			y := (cur / w) % h
			z := cur / (w * h)

			for _, o := range offsets {
				nx, ny, nz := x+o[0], y+o[1], z+o[2]
				if nx < 0 || nx >= w || ny < 0 || ny >= h || nz < 0 || nz >= d {
					continue
				}
				n := mask.Index(nx, ny, nz)
				if mask.Data[n] && labels.Data[n] == 0 {
					labels.Data[n] = next
					queue = append(queue, n)
				}
			}
		}
		sizes = append(sizes, size)
	}

	// Pass 2: size filter and relabel by decreasing size
	remap := relabelBySize(sizes, minSize)
	for i, k := range labels.Data {
		if k != 0 {
			labels.Data[i] = remap[k]
		}
	}

	return labels, nil
}

// relabelBySize maps discovery label -> final label, 0 for dropped regions.
// sizes[i] is the voxel count of discovery label i+1.
func relabelBySize(sizes []int, minSize int) []int {
	order := make([]int, 0, len(sizes))
	for i, n := range sizes {
		if n >= minSize {
			order = append(order, i+1)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sizes[order[a]-1] > sizes[order[b]-1]
	})

	remap := make([]int, len(sizes)+1)
	for rank, k := range order {
		remap[k] = rank + 1
	}
	return remap
}

func (c *ConnectedComponents) offsets() ([][3]int, error) {
	switch c.Connectivity {
	case Face, 0:
		return [][3]int{
			{-1, 0, 0}, {1, 0, 0},
			{0, -1, 0}, {0, 1, 0},
			{0, 0, -1}, {0, 0, 1},
		}, nil
	case Full:
		out := make([][3]int, 0, 26)
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					out = append(out, [3]int{dx, dy, dz})
				}
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported connectivity %d", c.Connectivity)
}
