package grid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
)

// Batch is one image's worth of detections as delivered by the detector
type Batch struct {
	Plate      string      `json:"plate,omitempty"`
	Layout     string      `json:"layout,omitempty"`
	Detections []Detection `json:"detections"`
}

// rawDetection is the wire form: center [x, y] and an optional bbox [x, y, w, h]
type rawDetection struct {
	Center []float64 `json:"center"`
	BBox   []float64 `json:"bbox,omitempty"`
}

type rawBatch struct {
	Plate      string         `json:"plate"`
	Layout     string         `json:"layout"`
	Detections []rawDetection `json:"detections"`
}

// ParseDetectionsFile reads and parses a detections JSON file
func ParseDetectionsFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseDetectionsJSON(data)
}

// ParseDetectionsJSON accepts either a bare array of detections or an
// envelope object carrying plate and layout names.
func ParseDetectionsJSON(data []byte) (*Batch, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("parsing JSON: empty payload")
	}

	var raw rawBatch
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw.Detections); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	batch := &Batch{
		Plate:      raw.Plate,
		Layout:     raw.Layout,
		Detections: make([]Detection, 0, len(raw.Detections)),
	}
	for i, rd := range raw.Detections {
		d, err := rd.detection()
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		batch.Detections = append(batch.Detections, d)
	}
	return batch, nil
}

func (rd rawDetection) detection() (Detection, error) {
	if len(rd.Center) != 2 {
		return Detection{}, fmt.Errorf("center needs 2 values, got %d", len(rd.Center))
	}
	center := orb.Point{rd.Center[0], rd.Center[1]}

	switch len(rd.BBox) {
	case 0:
		return Detection{Center: center, Box: Box{X: center[0], Y: center[1]}}, nil
	case 4:
		if rd.BBox[2] < 0 || rd.BBox[3] < 0 {
			return Detection{}, fmt.Errorf("bbox has negative size")
		}
		return Detection{
			Center: center,
			Box:    Box{X: rd.BBox[0], Y: rd.BBox[1], W: rd.BBox[2], H: rd.BBox[3]},
		}, nil
	default:
		return Detection{}, fmt.Errorf("bbox needs 4 values, got %d", len(rd.BBox))
	}
}

// MarshalDetections encodes a batch in the envelope wire form
func MarshalDetections(b *Batch) ([]byte, error) {
	raw := rawBatch{
		Plate:      b.Plate,
		Layout:     b.Layout,
		Detections: make([]rawDetection, 0, len(b.Detections)),
	}
	for _, d := range b.Detections {
		raw.Detections = append(raw.Detections, rawDetection{
			Center: []float64{d.Center[0], d.Center[1]},
			BBox:   []float64{d.Box.X, d.Box.Y, d.Box.W, d.Box.H},
		})
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshaling detections: %w", err)
	}
	return data, nil
}
