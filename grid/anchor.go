package grid

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// band is a run of points whose y stays near the band's running mean
type band struct {
	points []orb.Point
	meanY  float64
}

// splitBands sorts points by (y, x) and cuts a new band whenever a point
// strays more than dyThresh from the current band's running mean y.
func splitBands(points []orb.Point, dyThresh float64) []band {
	sorted := append([]orb.Point(nil), points...)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a][1] != sorted[b][1] {
			return sorted[a][1] < sorted[b][1]
		}
		return sorted[a][0] < sorted[b][0]
	})

	var bands []band
	var cur []orb.Point
	var sum float64
	flush := func() {
		if len(cur) > 0 {
			bands = append(bands, band{points: cur, meanY: sum / float64(len(cur))})
		}
		cur, sum = nil, 0
	}

	for _, p := range sorted {
		if len(cur) > 0 && math.Abs(p[1]-sum/float64(len(cur))) > dyThresh {
			flush()
		}
		cur = append(cur, p)
		sum += p[1]
	}
	flush()
	return bands
}

// BandAnchor picks the top or bottom band of a cluster's points and collapses
// it to one point. The anchor is unresolved when the band size differs from
// cfg.ExactCount (any size is accepted when ExactCount is 0).
func BandAnchor(points []orb.Point, cfg AnchorConfig) MaybePoint {
	bands := splitBands(points, cfg.DyThresh)
	if len(bands) == 0 {
		return None
	}

	pick := bands[0]
	for _, b := range bands[1:] {
		if cfg.Band == BandBottom && b.meanY > pick.meanY {
			pick = b
		} else if cfg.Band != BandBottom && b.meanY < pick.meanY {
			pick = b
		}
	}

	if cfg.ExactCount > 0 && len(pick.points) != cfg.ExactCount {
		return None
	}

	if cfg.Mode == AnchorMinMax {
		lo, hi := pick.points[0], pick.points[0]
		for _, p := range pick.points[1:] {
			if p[0] < lo[0] {
				lo = p
			}
			if p[0] > hi[0] {
				hi = p
			}
		}
		return Some(orb.Point{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2})
	}
	return Some(centroid(pick.points))
}

// RankSample is a resolved anchor at a column rank
type RankSample struct {
	Rank  float64
	Point orb.Point
}

// RegressionAnchor fits x and y independently against column rank and
// evaluates both lines at rank. It is unresolved when either fit is degenerate.
func RegressionAnchor(samples []RankSample, rank int) MaybePoint {
	ranks := make([]float64, len(samples))
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		ranks[i] = s.Rank
		xs[i] = s.Point[0]
		ys[i] = s.Point[1]
	}

	ax, bx, okx := fitLine(ranks, xs)
	ay, by, oky := fitLine(ranks, ys)
	if !okx || !oky {
		return None
	}
	r := float64(rank)
	return Some(orb.Point{ax + bx*r, ay + by*r})
}

// anchorResolver is one fallback tier tried for anchors the band step left unresolved
type anchorResolver struct {
	tier    Tier
	resolve func(i int) MaybePoint
}

// EstimateAnchors resolves one anchor per cluster. Band selection runs for
// every cluster first; the regression and bounding-box fallbacks then fill
// the rest, so no anchor is left unresolved. rows is the output of IndexRows.
func EstimateAnchors(clusters []Cluster, rows [][]int, cfg AnchorConfig) []Anchor {
	anchors := make([]Anchor, len(clusters))
	for i, c := range clusters {
		anchors[i] = Anchor{
			ClusterID: c.ID,
			Row:       c.Row,
			Col:       c.Col,
			Bound:     c.Bound,
		}
		if p := BandAnchor(c.Points, cfg); p.OK {
			anchors[i].Point = p
			anchors[i].Tier = TierBand
		}
	}

	// Regression samples only come from band-resolved anchors of the same row.
	samples := make(map[int][]RankSample, len(rows))
	for r, idxs := range rows {
		for _, i := range idxs {
			if anchors[i].Tier == TierBand {
				samples[r] = append(samples[r], RankSample{
					Rank:  float64(clusters[i].Col),
					Point: anchors[i].Point.Point,
				})
			}
		}
	}

	var resolvers []anchorResolver
	if cfg.Regression {
		resolvers = append(resolvers, anchorResolver{TierRegression, func(i int) MaybePoint {
			return RegressionAnchor(samples[clusters[i].Row], clusters[i].Col)
		}})
	}
	resolvers = append(resolvers, anchorResolver{TierBoundingBox, func(i int) MaybePoint {
		return Some(clusters[i].Bound.Center())
	}})

	for i := range anchors {
		if anchors[i].Point.OK {
			continue
		}
		for _, r := range resolvers {
			if p := r.resolve(i); p.OK {
				anchors[i].Point = p
				anchors[i].Tier = r.tier
				break
			}
		}
	}
	return anchors
}

// CorrectRows pulls anchors that sit off their row back in line. Row
// membership is the cluster row; column membership is any cluster whose
// centroid x lies within colTol. An anchor whose y is more than tol from the
// median of its row (itself excluded) takes the median x of its column and
// the mean y of its row. It returns the number of corrected anchors.
func CorrectRows(anchors []Anchor, clusters []Cluster, tol, colTol float64) int {
	if len(anchors) != len(clusters) {
		return 0
	}

	byRow := make(map[int][]int)
	var order []int
	for i, c := range clusters {
		if _, ok := byRow[c.Row]; !ok {
			order = append(order, c.Row)
		}
		byRow[c.Row] = append(byRow[c.Row], i)
	}
	sort.Ints(order)

	corrected := 0
	for _, r := range order {
		members := byRow[r]
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

			var colXs []float64
			for j, c := range clusters {
				if j != i && math.Abs(c.Centroid[0]-clusters[i].Centroid[0]) <= colTol {
					colXs = append(colXs, anchors[j].Point.Point[0])
				}
			}
			if x, ok := medianOf(colXs); ok {
				anchors[i].Point.Point[0] = x
			}
			y, _ := meanOf(others)
			anchors[i].Point.Point[1] = y
			anchors[i].Tier = TierCorrected
			corrected++
		}
	}
	return corrected
}
