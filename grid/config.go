package grid

import (
	"fmt"
	"os"
)

// Config is the top-level service configuration
type Config struct {
	MQTT          MQTTConfig `yaml:"mqtt" json:"mqtt"`
	HTTP          HTTPConfig `yaml:"http,omitempty" json:"http,omitempty"`
	DefaultLayout string     `yaml:"defaultLayout,omitempty" json:"defaultLayout,omitempty"`
	Layouts       []Layout   `yaml:"layouts" json:"layouts"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker          string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix   string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID        string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username        string `yaml:"username,omitempty" json:"username,omitempty"`
	Password        string `yaml:"password,omitempty" json:"password,omitempty"`
	DetectionsTopic string `yaml:"detectionsTopic,omitempty" json:"detectionsTopic,omitempty"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// RowPolicy selects how clusters are assigned to well rows
type RowPolicy string

const (
	RowsBanded RowPolicy = "banded"
	RowsFixed  RowPolicy = "fixed"
)

// BandSide selects which row band of a cluster anchors it
type BandSide string

const (
	BandTop    BandSide = "top"
	BandBottom BandSide = "bottom"
)

// AnchorMode selects how a band collapses to a single point
type AnchorMode string

const (
	AnchorMean   AnchorMode = "mean"   // arithmetic mean of the band
	AnchorMinMax AnchorMode = "minmax" // midpoint of the leftmost and rightmost members
)

// Layout describes one plate variant. Every geometric constant lives here.
type Layout struct {
	Name     string `yaml:"name" json:"name"`
	WellRows int    `yaml:"wellRows" json:"wellRows"`
	WellCols int    `yaml:"wellCols" json:"wellCols"`

	ClusterEps  float64 `yaml:"clusterEps" json:"clusterEps"`
	ClusterEps2 float64 `yaml:"clusterEps2,omitempty" json:"clusterEps2,omitempty"` // 0 disables the second pass

	RowPolicy     RowPolicy `yaml:"rowPolicy,omitempty" json:"rowPolicy,omitempty"`
	RowBandThresh float64   `yaml:"rowBandThresh,omitempty" json:"rowBandThresh,omitempty"`
	MaxRows       int       `yaml:"maxRows,omitempty" json:"maxRows,omitempty"`

	Anchor  AnchorConfig  `yaml:"anchor" json:"anchor"`
	Lattice LatticeConfig `yaml:"lattice" json:"lattice"`
	Window  WindowConfig  `yaml:"window" json:"window"`

	MatchTolerance    float64       `yaml:"matchTolerance" json:"matchTolerance"`
	OutlierCorrection OutlierConfig `yaml:"outlierCorrection,omitempty" json:"outlierCorrection,omitempty"`
	RowCorrectionTol  float64       `yaml:"rowCorrectionTol,omitempty" json:"rowCorrectionTol,omitempty"`
	TwoPass           bool          `yaml:"twoPass,omitempty" json:"twoPass,omitempty"`
	CircleRadius      float64       `yaml:"circleRadius,omitempty" json:"circleRadius,omitempty"`
	Debug             bool          `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// AnchorConfig controls anchor estimation
type AnchorConfig struct {
	Band     BandSide   `yaml:"band,omitempty" json:"band,omitempty"`
	Mode     AnchorMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	DyThresh float64    `yaml:"dyThresh" json:"dyThresh"`
	// ExactCount is the band size required for a band anchor; 0 accepts any non-empty band
	ExactCount    int     `yaml:"exactCount,omitempty" json:"exactCount,omitempty"`
	Regression    bool    `yaml:"regression,omitempty" json:"regression,omitempty"`
	RowCorrection bool    `yaml:"rowCorrection,omitempty" json:"rowCorrection,omitempty"`
	ColumnTol     float64 `yaml:"columnTol,omitempty" json:"columnTol,omitempty"` // centroid dx for same-column membership
}

// LatticeConfig is the expected spot lattice relative to an anchor
type LatticeConfig struct {
	Rows    int     `yaml:"rows" json:"rows"`
	Cols    int     `yaml:"cols" json:"cols"`
	DX      float64 `yaml:"dx" json:"dx"`
	DY      float64 `yaml:"dy" json:"dy"`
	OffsetX float64 `yaml:"offsetX" json:"offsetX"`
	OffsetY float64 `yaml:"offsetY" json:"offsetY"`
}

// WindowConfig are the anchor-relative margins of the candidate window
type WindowConfig struct {
	Up    float64 `yaml:"up" json:"up"`
	Down  float64 `yaml:"down" json:"down"`
	Left  float64 `yaml:"left" json:"left"`
	Right float64 `yaml:"right" json:"right"`
}

// OutlierConfig controls the rank-based outlier correction pass
type OutlierConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
}

const defaultColumnTol = 30.0

// WithDefaults returns a copy with empty enum and tolerance fields filled in
func (l Layout) WithDefaults() Layout {
	if l.RowPolicy == "" {
		l.RowPolicy = RowsBanded
	}
	if l.MaxRows == 0 {
		l.MaxRows = l.WellRows
	}
	if l.Anchor.Band == "" {
		l.Anchor.Band = BandTop
	}
	if l.Anchor.Mode == "" {
		l.Anchor.Mode = AnchorMean
	}
	if l.Anchor.ColumnTol == 0 {
		l.Anchor.ColumnTol = defaultColumnTol
	}
	return l
}

// Validate rejects layouts the engine cannot run with
func (l Layout) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("layout name is required")
	}
	if l.WellRows <= 0 || l.WellCols <= 0 {
		return fmt.Errorf("layout %s: wellRows and wellCols must be positive", l.Name)
	}
	if l.Lattice.Rows <= 0 || l.Lattice.Cols <= 0 {
		return fmt.Errorf("layout %s: lattice rows and cols must be positive", l.Name)
	}
	if l.Lattice.DX <= 0 || l.Lattice.DY <= 0 {
		return fmt.Errorf("layout %s: lattice pitch must be positive", l.Name)
	}
	if l.ClusterEps <= 0 {
		return fmt.Errorf("layout %s: clusterEps must be positive", l.Name)
	}
	if l.ClusterEps2 < 0 || l.MatchTolerance < 0 || l.RowCorrectionTol < 0 {
		return fmt.Errorf("layout %s: tolerances must not be negative", l.Name)
	}
	if l.Window.Up < 0 || l.Window.Down < 0 || l.Window.Left < 0 || l.Window.Right < 0 {
		return fmt.Errorf("layout %s: window margins must not be negative", l.Name)
	}
	switch l.RowPolicy {
	case "", RowsBanded, RowsFixed:
	default:
		return fmt.Errorf("layout %s: unknown rowPolicy %q", l.Name, l.RowPolicy)
	}
	switch l.Anchor.Band {
	case "", BandTop, BandBottom:
	default:
		return fmt.Errorf("layout %s: unknown anchor band %q", l.Name, l.Anchor.Band)
	}
	switch l.Anchor.Mode {
	case "", AnchorMean, AnchorMinMax:
	default:
		return fmt.Errorf("layout %s: unknown anchor mode %q", l.Name, l.Anchor.Mode)
	}
	if l.Anchor.ExactCount < 0 {
		return fmt.Errorf("layout %s: anchor exactCount must not be negative", l.Name)
	}
	return nil
}

// Layout returns the named layout, or the default layout when name is empty
func (c *Config) Layout(name string) (Layout, error) {
	if name == "" {
		name = c.DefaultLayout
	}
	if name == "" && len(c.Layouts) > 0 {
		return c.Layouts[0].WithDefaults(), nil
	}
	for _, l := range c.Layouts {
		if l.Name == name {
			return l.WithDefaults(), nil
		}
	}
	return Layout{}, fmt.Errorf("unknown layout %q", name)
}

// LayoutNames lists configured layouts in file order
func (c *Config) LayoutNames() []string {
	names := make([]string, 0, len(c.Layouts))
	for _, l := range c.Layouts {
		names = append(names, l.Name)
	}
	return names
}

// ApplyEnv overlays MQTT_* environment variables onto the MQTT settings
func (c *Config) ApplyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"MQTT_BROKER", &c.MQTT.Broker},
		{"MQTT_CLIENT_ID", &c.MQTT.ClientID},
		{"MQTT_USERNAME", &c.MQTT.Username},
		{"MQTT_PASSWORD", &c.MQTT.Password},
		{"MQTT_PUBLISH_PREFIX", &c.MQTT.PublishPrefix},
		{"MQTT_DETECTIONS_TOPIC", &c.MQTT.DetectionsTopic},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}
