package facematch

func (b BBox) Width() float64  { return b[2] - b[0] }
func (b BBox) Height() float64 { return b[3] - b[1] }

// Center returns the bbox center in pixels.
func (b BBox) Center() (float64, float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// Area returns the bbox area, 0 for degenerate boxes.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Scale multiplies every coordinate by f, mapping a bbox from a resized
// frame back to the original one.
func (b BBox) Scale(f float64) BBox {
	return BBox{b[0] * f, b[1] * f, b[2] * f, b[3] * f}
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
func ComputeIoU(a, b BBox) float64 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// DedupeOverlapping drops detections overlapping a higher-confidence one by
// more than iouThreshold. Order of the survivors is preserved.
func DedupeOverlapping(faces []FaceObservation, iouThreshold float64) []FaceObservation {
	if len(faces) < 2 {
		return faces
	}
	drop := make([]bool, len(faces))
	for i := range faces {
		for j := i + 1; j < len(faces); j++ {
			if drop[i] || drop[j] {
				continue
			}
			if ComputeIoU(faces[i].BBox, faces[j].BBox) <= iouThreshold {
				continue
			}
			if faces[j].DetScore > faces[i].DetScore {
				drop[i] = true
			} else {
				drop[j] = true
			}
		}
	}
	out := make([]FaceObservation, 0, len(faces))
	for i, f := range faces {
		if !drop[i] {
			out = append(out, f)
		}
	}
	return out
}
