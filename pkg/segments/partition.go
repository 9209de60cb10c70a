// Package segments assigns extracted points to the segments of an
// independent segmentation volume.
package segments

import (
	"errors"
	"fmt"

	"fociscan/internal/models"
)

// ErrOutOfBounds means a point does not fit the segmentation volume, i.e.
// the segmentation was not computed over the analyzed image.
var ErrOutOfBounds = errors.New("point outside segmentation volume")

// Partition buckets points by the segment label at their voxel. Segments
// 1..max(labels) each get a bucket, kept even when empty. Points on label 0
// are dropped and counted as background. Bucket order follows the order of
// points.
func Partition(points []models.Point, labels *models.LabelVolume) (*models.SegmentedPointSet, error) {
	if labels == nil {
		return nil, fmt.Errorf("nil segmentation volume")
	}

	maxLabel := labels.Max()
	buckets := make([][]models.Point, maxLabel)
	for i := range buckets {
		buckets[i] = []models.Point{}
	}

	background := 0
	for _, p := range points {
		k, err := labels.At(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOutOfBounds, err)
		}
		if k < 1 || k > maxLabel {
			background++
			continue
		}
		buckets[k-1] = append(buckets[k-1], p)
	}

	return models.NewSegmentedPointSet(buckets, background), nil
}
