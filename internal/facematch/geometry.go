package facematch

import "sort"

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// SuppressOverlaps returns the indices of the boxes that survive greedy non-maximum suppression:
// boxes are visited by descending score and dropped when their IoU with an already kept box
// exceeds maxIoU. The result is in input order. Boxes without valid coordinates are always kept.
func SuppressOverlaps(boxes [][]float64, scores []float64, maxIoU float64) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scoreAt(scores, order[a]) > scoreAt(scores, order[b])
	})

	kept := make([]bool, len(boxes))
	var keptIdx []int
	for _, i := range order {
		overlap := false
		for _, k := range keptIdx {
			if ComputeIoU(boxes[i], boxes[k]) > maxIoU {
				overlap = true
				break
			}
		}
		if !overlap {
			kept[i] = true
			keptIdx = append(keptIdx, i)
		}
	}

	out := make([]int, 0, len(keptIdx))
	for i, ok := range kept {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

func scoreAt(scores []float64, i int) float64 {
	if i < len(scores) {
		return scores[i]
	}
	return 0
}
