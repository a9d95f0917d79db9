package grid

import (
	"log"

	"github.com/google/uuid"
)

// Engine turns one image's detections into a dense position array for a layout.
// It holds no per-image state and may be reused across images.
type Engine struct {
	layout Layout
}

// NewEngine creates an engine for the given layout
func NewEngine(layout Layout) *Engine {
	return &Engine{layout: layout.WithDefaults()}
}

// Layout returns the layout the engine runs with
func (e *Engine) Layout() Layout {
	return e.layout
}

// Run processes a batch and stamps the result with the plate id and a fresh run id
func (e *Engine) Run(b *Batch) *Result {
	result := e.Process(b.Detections)
	result.Plate = b.Plate
	result.RunID = uuid.NewString()
	return result
}

// Process runs clustering, row indexing, anchor estimation, the optional
// correction passes and reconciliation. The output shape is fixed by the
// layout; missing wells and spots only leave cells invalid.
func (e *Engine) Process(dets []Detection) *Result {
	l := e.layout
	result := &Result{
		Layout:    l.Name,
		Positions: NewPositions(l.WellRows, l.WellCols, l.Lattice.Rows, l.Lattice.Cols),
	}

	clusters := BuildClusters(dets, l.ClusterEps, l.ClusterEps2)
	rows := IndexRows(clusters, l.RowPolicy, l.RowBandThresh, l.MaxRows)
	anchors := EstimateAnchors(clusters, rows, l.Anchor)

	if l.Anchor.RowCorrection {
		CorrectRows(anchors, clusters, l.RowCorrectionTol, l.Anchor.ColumnTol)
	}
	if l.OutlierCorrection.Enabled {
		CorrectOutliers(anchors, l.OutlierCorrection.Tolerance)
	}

	result.Clusters = clusters
	result.Anchors = anchors
	result.Reconciled = Reconcile(clusters, anchors, l)

	for k, rec := range result.Reconciled {
		c := clusters[k]
		if c.Row < 0 || c.Row >= l.WellRows || c.Col < 0 || c.Col >= l.WellCols {
			if l.Debug {
				log.Printf("[engine] %s: cluster %d at row %d col %d is outside the %dx%d plate, dropped",
					l.Name, c.ID, c.Row, c.Col, l.WellRows, l.WellCols)
			}
			continue
		}
		well := result.Positions[c.Row][c.Col]
		for _, p := range rec.Points {
			well[p.Row][p.Col] = p.Position
		}
	}

	result.Stats = collectStats(result, len(dets))
	if l.Debug {
		s := result.Stats
		log.Printf("[engine] %s: %d detections, %d clusters, %d/%d slots measured, %d inferred, %d invalid",
			l.Name, s.Detections, s.Clusters, s.Measured, s.Slots, s.Inferred, s.Invalid)
	}
	return result
}

func collectStats(r *Result, detections int) Stats {
	s := Stats{
		Detections: detections,
		Clusters:   len(r.Clusters),
		Tiers:      make(map[Tier]int),
	}
	for _, a := range r.Anchors {
		s.Tiers[a.Tier]++
	}
	for _, wellRow := range r.Positions {
		for _, well := range wellRow {
			for _, row := range well {
				for _, p := range row {
					s.Slots++
					switch {
					case !p.Valid:
						s.Invalid++
					case p.Measured:
						s.Measured++
					default:
						s.Inferred++
					}
				}
			}
		}
	}
	return s
}
