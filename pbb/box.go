package pbb

import (
	"math"
	"sort"
)

// Box is a candidate nodule: a cube of side D centred at (Z, Y, X), in
// voxels of the input volume.
type Box struct {
	Score float64 // objectness logit
	Z     float64
	Y     float64
	X     float64
	D     float64
}

// Cell locates the anchor a Box was decoded from.
type Cell struct {
	Z, Y, X, Anchor int
}

// IoU computes intersection over union of two boxes treated as cubes.
func IoU(a, b Box) float64 {
	ca := [3]float64{a.Z, a.Y, a.X}
	cb := [3]float64{b.Z, b.Y, b.X}
	ra, rb := a.D/2, b.D/2

	inter := 1.0
	for i := 0; i < 3; i++ {
		lo := math.Max(ca[i]-ra, cb[i]-rb)
		hi := math.Min(ca[i]+ra, cb[i]+rb)
		inter *= math.Max(0, hi-lo)
	}
	union := a.D*a.D*a.D + b.D*b.D*b.D - inter
	if union <= 0 {
		return 0
	}

	return inter / union
}

// NMS sorts boxes by score (highest first) and greedily drops every box
// whose IoU with an already kept box is at least th.
func NMS(boxes []Box, th float64) []Box {
	if len(boxes) == 0 {
		return nil
	}
	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := []Box{sorted[0]}
	for _, b := range sorted[1:] {
		suppressed := false
		for _, k := range kept {
			if IoU(b, k) >= th {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, b)
		}
	}

	return kept
}
