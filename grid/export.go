package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BoxRecord is a cluster extent in whole pixels
type BoxRecord struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// CircleRecord is one reconciled spot in whole pixels
type CircleRecord struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Radius int `json:"radius"`
}

func round(v float64) int {
	return int(math.Round(v))
}

// ExportBoxes returns the min/max extent of each cluster's member points.
// Clusters without points are skipped.
func ExportBoxes(clusters []Cluster) []BoxRecord {
	boxes := make([]BoxRecord, 0, len(clusters))
	for _, c := range clusters {
		if len(c.Points) == 0 {
			continue
		}
		minX, minY := c.Points[0][0], c.Points[0][1]
		maxX, maxY := minX, minY
		for _, p := range c.Points[1:] {
			minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
			minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
		}
		boxes = append(boxes, BoxRecord{X0: round(minX), Y0: round(minY), X1: round(maxX), Y1: round(maxY)})
	}
	return boxes
}

// ExportCircles flattens every valid position of the result, in array order
func ExportCircles(r *Result, radius float64) []CircleRecord {
	var circles []CircleRecord
	for _, wellRow := range r.Positions {
		for _, well := range wellRow {
			for _, row := range well {
				for _, p := range row {
					if p.Valid {
						circles = append(circles, CircleRecord{X: round(p.X), Y: round(p.Y), Radius: round(radius)})
					}
				}
			}
		}
	}
	return circles
}

// Summary renders the position array as text, one line per spot row.
// Valid cells print as (x,y) and invalid cells as [--].
func (r *Result) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PositionArray layout=%s WellRow=%d\n", r.Layout, len(r.Positions))
	for wr, wellRow := range r.Positions {
		fmt.Fprintf(&sb, " Row %d (WellCol=%d)\n", wr, len(wellRow))
		for wc, well := range wellRow {
			fmt.Fprintf(&sb, "  Well(%d,%d):\n", wr, wc)
			for _, row := range well {
				sb.WriteString("   ")
				for _, p := range row {
					if p.Valid {
						sb.WriteString("(" + formatCoord(p.X) + "," + formatCoord(p.Y) + ") ")
					} else {
						sb.WriteString("[--] ")
					}
				}
				sb.WriteString("\n")
			}
		}
	}
	s := r.Stats
	fmt.Fprintf(&sb, "measured=%d inferred=%d invalid=%d (%.0f%% measured)\n",
		s.Measured, s.Inferred, s.Invalid, 100*s.MeasuredFraction())
	return sb.String()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
