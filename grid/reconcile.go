package grid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// MissingSlots returns the generated positions of slots with no point within tol
func MissingSlots(slots []LatticeSlot, points []orb.Point, tol float64) []orb.Point {
	tol2 := tol * tol
	var missing []orb.Point
	for _, s := range slots {
		p, ok := s.Point.Get()
		if !ok {
			continue
		}
		found := false
		for _, q := range points {
			if planar.DistanceSquared(p, q) <= tol2 {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, p)
		}
	}
	return missing
}

// WindowFilter keeps candidates inside the inclusive rectangle
// [ax-left, ax+right] x [ay-up, ay+down] around the anchor.
func WindowFilter(cands []Candidate, anchor orb.Point, w WindowConfig) []Candidate {
	win := windowBound(anchor, w)
	kept := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if win.Contains(c.Point) {
			kept = append(kept, c)
		}
	}
	return kept
}

func windowBound(anchor orb.Point, w WindowConfig) orb.Bound {
	return orb.Bound{
		Min: orb.Point{anchor[0] - w.Left, anchor[1] - w.Up},
		Max: orb.Point{anchor[0] + w.Right, anchor[1] + w.Down},
	}
}

// Match pairs every slot with its nearest candidate. Within tol the slot takes
// the candidate's coordinate and is measured unless the candidate is
// synthetic; otherwise it keeps the generated coordinate and is inferred.
// Unresolved slots come back invalid.
func Match(slots []LatticeSlot, cands []Candidate, tol float64) []ReconciledPoint {
	tol2 := tol * tol
	out := make([]ReconciledPoint, 0, len(slots))
	for _, s := range slots {
		rp := ReconciledPoint{Row: s.Row, Col: s.Col}
		p, ok := s.Point.Get()
		if !ok {
			out = append(out, rp)
			continue
		}

		best, bestD := -1, math.Inf(1)
		for i, c := range cands {
			if d := planar.DistanceSquared(p, c.Point); d < bestD {
				best, bestD = i, d
			}
		}

		rp.Valid = true
		if best >= 0 && bestD <= tol2 {
			rp.X, rp.Y = cands[best].Point[0], cands[best].Point[1]
			rp.Measured = !cands[best].Synthetic
		} else {
			rp.X, rp.Y = p[0], p[1]
		}
		out = append(out, rp)
	}
	return out
}

// Reconcile matches each cluster's lattice against its windowed candidates.
// With twoPass set, slots that no detection explains are added as synthetic
// candidates before windowing. Mismatched cluster and anchor lists yield nil.
func Reconcile(clusters []Cluster, anchors []Anchor, l Layout) []ClusterReconciliation {
	if len(clusters) != len(anchors) {
		return nil
	}

	out := make([]ClusterReconciliation, 0, len(clusters))
	for i, c := range clusters {
		rec := ClusterReconciliation{ClusterID: c.ID}
		slots := GenerateLattice(anchors[i].Point, l.Lattice)

		cands := make([]Candidate, 0, len(c.Points))
		for _, p := range c.Points {
			cands = append(cands, Candidate{Point: p})
		}
		if l.TwoPass {
			for _, p := range MissingSlots(slots, c.Points, l.MatchTolerance) {
				cands = append(cands, Candidate{Point: p, Synthetic: true})
			}
		}

		if a, ok := anchors[i].Point.Get(); ok {
			rec.Windowed = WindowFilter(cands, a, l.Window)
		}
		rec.Points = Match(slots, rec.Windowed, l.MatchTolerance)
		out = append(out, rec)
	}
	return out
}
