package grid

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature kinds written to the "kind" property
const (
	KindCluster  = "cluster"
	KindWindow   = "window"
	KindAnchor   = "anchor"
	KindPosition = "position"
)

// ToFeatureCollection exports a result in image pixel coordinates: cluster
// bounds and candidate windows as polygons, anchors and valid positions as points.
func ToFeatureCollection(r *Result, w WindowConfig) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, c := range r.Clusters {
		f := geojson.NewFeature(c.Bound.ToPolygon())
		f.ID = fmt.Sprintf("cluster-%d", c.ID)
		f.Properties["kind"] = KindCluster
		f.Properties["cluster"] = c.ID
		f.Properties["row"] = c.Row
		f.Properties["col"] = c.Col
		f.Properties["points"] = len(c.Points)
		fc.Append(f)
	}

	for _, a := range r.Anchors {
		p, ok := a.Point.Get()
		if !ok {
			continue
		}
		win := geojson.NewFeature(windowBound(p, w).ToPolygon())
		win.Properties["kind"] = KindWindow
		win.Properties["cluster"] = a.ClusterID
		fc.Append(win)

		f := geojson.NewFeature(p)
		f.ID = fmt.Sprintf("anchor-%d", a.ClusterID)
		f.Properties["kind"] = KindAnchor
		f.Properties["cluster"] = a.ClusterID
		f.Properties["tier"] = a.Tier.String()
		fc.Append(f)
	}

	for wr, wellRow := range r.Positions {
		for wc, well := range wellRow {
			for pr, row := range well {
				for pc, pos := range row {
					if !pos.Valid {
						continue
					}
					f := geojson.NewFeature(orb.Point{pos.X, pos.Y})
					f.Properties["kind"] = KindPosition
					f.Properties["well"] = []int{wr, wc}
					f.Properties["spot"] = []int{pr, pc}
					f.Properties["measured"] = pos.Measured
					fc.Append(f)
				}
			}
		}
	}

	return fc
}

// MarshalGeoJSON encodes a result as a GeoJSON FeatureCollection
func MarshalGeoJSON(r *Result, w WindowConfig) ([]byte, error) {
	data, err := ToFeatureCollection(r, w).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling GeoJSON: %w", err)
	}
	return data, nil
}
