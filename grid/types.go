package grid

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// Box is an axis-aligned detection box in image pixels, top-left origin
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Bound converts the box to an orb.Bound
func (b Box) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.X, b.Y},
		Max: orb.Point{b.X + b.W, b.Y + b.H},
	}
}

// Detection is a single feature-center candidate produced by the external detector
type Detection struct {
	Center orb.Point `json:"center"`
	Box    Box       `json:"bbox"`
}

// Cluster groups detections believed to belong to one physical well.
// Row and Col are -1 until the row indexer has run.
type Cluster struct {
	ID       int         `json:"id"`
	Row      int         `json:"row"`
	Col      int         `json:"col"`
	Members  []int       `json:"members"` // indices into the input detections
	Points   []orb.Point `json:"points"`
	Bound    orb.Bound   `json:"bound"`
	Centroid orb.Point   `json:"centroid"`
}

// MaybePoint is a coordinate that may be unresolved. The zero value is unresolved.
type MaybePoint struct {
	Point orb.Point
	OK    bool
}

// Some wraps a resolved point
func Some(p orb.Point) MaybePoint {
	return MaybePoint{Point: p, OK: true}
}

// None is the unresolved marker
var None = MaybePoint{}

// Get returns the point and whether it is resolved
func (m MaybePoint) Get() (orb.Point, bool) {
	return m.Point, m.OK
}

// MarshalJSON encodes an unresolved point as null
func (m MaybePoint) MarshalJSON() ([]byte, error) {
	if !m.OK {
		return []byte("null"), nil
	}
	return json.Marshal(m.Point)
}

// UnmarshalJSON accepts null or an [x, y] pair
func (m *MaybePoint) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = None
		return nil
	}
	var p orb.Point
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Some(p)
	return nil
}

// Tier records which resolver produced an anchor
type Tier int

const (
	TierUnresolved Tier = iota
	TierBand
	TierRegression
	TierBoundingBox
	TierCorrected
)

var tierNames = []string{"unresolved", "band", "regression", "bbox", "corrected"}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// MarshalText makes tiers readable in JSON output
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name
func (t *Tier) UnmarshalText(text []byte) error {
	for i, name := range tierNames {
		if name == string(text) {
			*t = Tier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown anchor tier %q", text)
}

// Anchor is the reference point a cluster's lattice is placed from
type Anchor struct {
	ClusterID int        `json:"clusterId"`
	Row       int        `json:"row"`
	Col       int        `json:"col"`
	Bound     orb.Bound  `json:"bound"`
	Point     MaybePoint `json:"point"`
	Tier      Tier       `json:"tier"`
}

// LatticeSlot is one expected sample position
type LatticeSlot struct {
	Row   int
	Col   int
	Point MaybePoint
}

// Candidate is a point a lattice slot may be matched against. Synthetic
// candidates are slots patched in by the first reconciliation pass.
type Candidate struct {
	Point     orb.Point `json:"point"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

// Position is one cell of the dense output array
type Position struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Measured bool    `json:"measured"`
	Valid    bool    `json:"valid"`
}

// ReconciledPoint is a Position addressed by its lattice slot
type ReconciledPoint struct {
	Row int `json:"row"`
	Col int `json:"col"`
	Position
}

// ClusterReconciliation is the reconciler's output for one cluster
type ClusterReconciliation struct {
	ClusterID int               `json:"clusterId"`
	Windowed  []Candidate       `json:"windowed"`
	Points    []ReconciledPoint `json:"points"`
}

// Stats summarizes one engine invocation
type Stats struct {
	Detections int          `json:"detections"`
	Clusters   int          `json:"clusters"`
	Slots      int          `json:"slots"`
	Measured   int          `json:"measured"`
	Inferred   int          `json:"inferred"`
	Invalid    int          `json:"invalid"`
	Tiers      map[Tier]int `json:"tiers"`
}

// MeasuredFraction is the share of valid slots backed by a real detection
func (s Stats) MeasuredFraction() float64 {
	valid := s.Measured + s.Inferred
	if valid == 0 {
		return 0
	}
	return float64(s.Measured) / float64(valid)
}

// Result is the complete output for one plate image
type Result struct {
	RunID      string                  `json:"runId,omitempty"`
	Plate      string                  `json:"plate,omitempty"`
	Layout     string                  `json:"layout"`
	Positions  [][][][]Position        `json:"positions"`
	Clusters   []Cluster               `json:"clusters"`
	Anchors    []Anchor                `json:"anchors"`
	Reconciled []ClusterReconciliation `json:"reconciled"`
	Stats      Stats                   `json:"stats"`
}

// LowQuality reports whether less than threshold of the valid slots are
// measured. A result with no valid slot at all is always low quality.
func (r *Result) LowQuality(threshold float64) bool {
	if r.Stats.Measured+r.Stats.Inferred == 0 {
		return true
	}
	return r.Stats.MeasuredFraction() < threshold
}

var emptyPoints = []ReconciledPoint{}

// PointsFor returns the reconciled points of a cluster. Unknown ids yield a
// shared empty slice.
func (r *Result) PointsFor(clusterID int) []ReconciledPoint {
	for i := range r.Reconciled {
		if r.Reconciled[i].ClusterID == clusterID {
			return r.Reconciled[i].Points
		}
	}
	return emptyPoints
}

// NewPositions allocates an all-invalid dense array of the given shape
func NewPositions(wellRows, wellCols, pointRows, pointCols int) [][][][]Position {
	out := make([][][][]Position, wellRows)
	for wr := range out {
		out[wr] = make([][][]Position, wellCols)
		for wc := range out[wr] {
			out[wr][wc] = make([][]Position, pointRows)
			for pr := range out[wr][wc] {
				out[wr][wc][pr] = make([]Position, pointCols)
			}
		}
	}
	return out
}
