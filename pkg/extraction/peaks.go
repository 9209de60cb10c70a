// Package extraction finds bright foci in a volume by thresholding it,
// labelling the connected regions and keeping the brightest voxel of each
// region. Scanner repeats this over a range of thresholds.
package extraction

import (
	"fmt"

	"fociscan/internal/models"
	"fociscan/pkg/labeling"
)

// ExtractPeaks runs one threshold step: it labels the voxels brighter than
// threshold, drops regions below minSize voxels and returns the peak voxel
// of every remaining region, in ascending label order.
//
// Voxels are visited in lexicographic (x, y, z) order and a voxel replaces
// the current peak only when strictly brighter, so among equally bright
// voxels the first one visited wins.
//
// A threshold with no foreground returns an empty slice and no error.
func ExtractPeaks(v *models.Volume, threshold float64, minSize int, labeler labeling.Labeler) ([]models.Point, error) {
	if v == nil {
		return nil, fmt.Errorf("nil volume")
	}

	mask := v.Threshold(threshold)
	if mask.Count() == 0 {
		return nil, nil
	}

	labels, err := labeler.Label(mask, minSize)
	if err != nil {
		return nil, fmt.Errorf("labeling at threshold %g: %w", threshold, err)
	}
	if labels.Shape != v.Shape || len(labels.Data) != len(v.Data) {
		return nil, fmt.Errorf("label volume %v does not match volume %v", labels.Shape, v.Shape)
	}

	maxLabel := labels.Max()
	if maxLabel == 0 {
		return nil, nil
	}

	found := make([]bool, maxLabel+1)
	best := make([]float64, maxLabel+1)
	peaks := make([]models.Point, maxLabel+1)

	for x := 0; x < v.Width; x++ {
		for y := 0; y < v.Height; y++ {
			for z := 0; z < v.Depth; z++ {
				idx := v.Index(x, y, z)
				k := labels.Data[idx]
				if k <= 0 {
					continue
				}
				if !found[k] || v.Data[idx] > best[k] {
					found[k] = true
					best[k] = v.Data[idx]
					peaks[k] = models.Point{x, y, z}
				}
			}
		}
	}

	out := make([]models.Point, 0, maxLabel)
	for k := 1; k <= maxLabel; k++ {
		if found[k] {
			out = append(out, peaks[k])
		}
	}
	return out, nil
}
