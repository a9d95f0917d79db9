package grid

import (
	"sort"
)

// IndexRows assigns Row and Col to every cluster according to policy and
// returns the cluster indices of each row, ordered by column.
func IndexRows(clusters []Cluster, policy RowPolicy, bandThresh float64, maxRows int) [][]int {
	var rows [][]int
	switch policy {
	case RowsFixed:
		rows = splitFixed(clusters)
	default:
		rows = splitBanded(clusters, bandThresh, maxRows)
	}

	for r, idxs := range rows {
		for c, i := range idxs {
			clusters[i].Row = r
			clusters[i].Col = c
		}
	}
	return rows
}

func sortByYThenX(clusters []Cluster, idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := clusters[idx[a]].Centroid, clusters[idx[b]].Centroid
		if pa[1] != pb[1] {
			return pa[1] < pb[1]
		}
		return pa[0] < pb[0]
	})
}

func sortByXThenY(clusters []Cluster, idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := clusters[idx[a]].Centroid, clusters[idx[b]].Centroid
		if pa[0] != pb[0] {
			return pa[0] < pb[0]
		}
		return pa[1] < pb[1]
	})
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// splitFixed bisects the (y, x)-sorted clusters into two rows. The half with
// the smaller mean y becomes row 0.
func splitFixed(clusters []Cluster) [][]int {
	if len(clusters) == 0 {
		return nil
	}

	idx := allIndices(len(clusters))
	sortByYThenX(clusters, idx)
	half := len(idx) / 2
	first := append([]int(nil), idx[:half]...)
	second := append([]int(nil), idx[half:]...)
	sortByXThenY(clusters, first)
	sortByXThenY(clusters, second)

	if len(first) == 0 {
		return [][]int{second}
	}
	if meanY(clusters, second) < meanY(clusters, first) {
		first, second = second, first
	}
	return [][]int{first, second}
}

// splitBanded walks clusters by ascending y and opens a new row whenever the
// gap to the previous centroid exceeds thresh. Once maxRows rows are open the
// remaining clusters fall into the last one.
func splitBanded(clusters []Cluster, thresh float64, maxRows int) [][]int {
	if len(clusters) == 0 {
		return nil
	}

	idx := allIndices(len(clusters))
	sortByYThenX(clusters, idx)
	rows := [][]int{{idx[0]}}
	prevY := clusters[idx[0]].Centroid[1]
	for _, i := range idx[1:] {
		y := clusters[i].Centroid[1]
		if y-prevY > thresh && (maxRows <= 0 || len(rows) < maxRows) {
			rows = append(rows, nil)
		}
		rows[len(rows)-1] = append(rows[len(rows)-1], i)
		prevY = y
	}

	for _, r := range rows {
		sortByXThenY(clusters, r)
	}
	return rows
}

func meanY(clusters []Cluster, idxs []int) float64 {
	if len(idxs) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idxs {
		sum += clusters[i].Centroid[1]
	}
	return sum / float64(len(idxs))
}
