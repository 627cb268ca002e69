package detector

import "sort"

// suppress drops every face that overlaps a higher scoring face by more than
// iouThreshold. The input slice is left untouched.
func suppress(faces []Face, iouThreshold float32) []Face {
	if len(faces) < 2 {
		return faces
	}

	sorted := make([]Face, len(faces))
	copy(sorted, faces)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	result := make([]Face, 0, len(sorted))
	for _, candidate := range sorted {
		keep := true
		for _, kept := range result {
			if kept.BoundingBox.IoU(candidate.BoundingBox) > iouThreshold {
				keep = false
				break
			}
		}
		if keep {
			result = append(result, candidate)
		}
	}
	return result
}

// IoU returns the intersection over union of two boxes
func (b BoundingBox) IoU(o BoundingBox) float32 {
	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b.Area() + o.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
