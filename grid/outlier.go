package grid

import (
	"math"
	"sort"
)

// CorrectOutliers is the rank-based consistency pass. Anchors are addressed by
// their (Row, Col) rank, not by coordinate. Rows are swept in order; within a
// row the y values are taken before any correction, while column x values are
// read as they stand, so a column sees corrections already made to earlier
// rows. It returns the number of corrected anchors.
func CorrectOutliers(anchors []Anchor, tol float64) int {
	rows := make(map[int][]int)
	cols := make(map[int][]int)
	for i, a := range anchors {
		if !a.Point.OK || a.Row < 0 || a.Col < 0 {
			continue
		}
		rows[a.Row] = append(rows[a.Row], i)
		cols[a.Col] = append(cols[a.Col], i)
	}

	rowOrder := make([]int, 0, len(rows))
	for r := range rows {
		rowOrder = append(rowOrder, r)
	}
	sort.Ints(rowOrder)

	corrected := 0
	for _, r := range rowOrder {
		members := rows[r]
		ys := make([]float64, len(members))
		for k, i := range members {
			ys[k] = anchors[i].Point.Point[1]
		}

		for k, i := range members {
			others := without(ys, k)
			med, ok := medianOf(others)
			if !ok || math.Abs(ys[k]-med) <= tol {
				continue
			}

			col := cols[anchors[i].Col]
			if len(col) >= 2 {
				xs := make([]float64, 0, len(col)-1)
				for _, j := range col {
					if j != i {
						xs = append(xs, anchors[j].Point.Point[0])
					}
				}
				if x, ok := medianOf(xs); ok {
					anchors[i].Point.Point[0] = x
				}
			}

			y, _ := meanOf(others)
			anchors[i].Point.Point[1] = y
			anchors[i].Tier = TierCorrected
			corrected++
		}
	}
	return corrected
}
