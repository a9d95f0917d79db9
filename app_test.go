package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/wellgrid/grid"
)

// testConfigYAML describes a single well row of 2x3-spot wells, 100 px apart
const testConfigYAML = `mqtt:
  publishPrefix: test
defaultLayout: row3
layouts:
  - name: row3
    wellRows: 1
    wellCols: 3
    clusterEps: 15
    rowBandThresh: 35
    anchor:
      band: top
      mode: mean
      dyThresh: 3
      exactCount: 3
      regression: true
    lattice: {rows: 2, cols: 3, dx: 10, dy: 10, offsetX: -10, offsetY: 0}
    window: {up: 5, down: 20, left: 15, right: 15}
    matchTolerance: 3
  - name: wide
    wellRows: 1
    wellCols: 1
    clusterEps: 15
    anchor: {band: top, dyThresh: 3}
    lattice: {rows: 1, cols: 1, dx: 10, dy: 10}
    window: {up: 50, down: 50, left: 50, right: 50}
    matchTolerance: 3
`

// detectionsJSON lays out 2x3 spots for each well origin x at y=100
func detectionsJSON(plate string, xs ...float64) []byte {
	type raw struct {
		Center []float64 `json:"center"`
	}
	var dets []raw
	for _, x := range xs {
		for r := 0; r < 2; r++ {
			for c := 0; c < 3; c++ {
				dets = append(dets, raw{Center: []float64{x + float64(c)*10, 100 + float64(r)*10}})
			}
		}
	}
	doc := map[string]any{"detections": dets}
	if plate != "" {
		doc["plate"] = plate
	}
	data, _ := json.Marshal(doc)
	return data
}

// newTestApp returns an App loaded with testConfigYAML and quiet output
func newTestApp(t *testing.T) *App {
	t.Helper()
	config, err := grid.ParseConfig([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("parsing test config: %v", err)
	}
	app := NewApp()
	app.Config = config
	app.Out = &bytes.Buffer{}
	return app
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp returned nil")
		return
	}
	if app.Store == nil {
		t.Error("Store should be initialized")
	}
	if app.Out != os.Stdout {
		t.Error("Out should default to stdout")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	opts := AppOptions{
		ConfigFile:     "c.yaml",
		Layout:         "pg",
		DetectionsFile: "p.json",
		OutputFile:     "-",
		HttpPort:       8080,
		MqttMode:       true,
	}
	app.ApplyOptions(opts)
	if app.opts != opts {
		t.Errorf("options not applied: %+v", app.opts)
	}
}

func TestLoadConfig_BuiltinAndFile(t *testing.T) {
	app := NewApp()
	if err := app.loadConfig(); err != nil {
		t.Fatalf("loadConfig with no file: %v", err)
	}
	if app.Config.DefaultLayout != "c5" {
		t.Errorf("expected built-in layouts, got default %q", app.Config.DefaultLayout)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, []byte(testConfigYAML))
	t.Setenv("MQTT_BROKER", "tcp://env:1883")

	app = NewApp()
	app.ApplyOptions(AppOptions{ConfigFile: path})
	if err := app.loadConfig(); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if app.Config.DefaultLayout != "row3" {
		t.Errorf("DefaultLayout = %q", app.Config.DefaultLayout)
	}
	if app.Config.MQTT.Broker != "tcp://env:1883" {
		t.Errorf("env override not applied, broker = %q", app.Config.MQTT.Broker)
	}

	app = NewApp()
	app.ApplyOptions(AppOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	if err := app.loadConfig(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestProcess_LayoutSelection(t *testing.T) {
	app := newTestApp(t)
	batch, err := grid.ParseDetectionsJSON(detectionsJSON("p1", 100, 200, 300))
	if err != nil {
		t.Fatal(err)
	}

	result, err := app.Process(batch, "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Layout != "row3" {
		t.Errorf("expected default layout row3, got %s", result.Layout)
	}
	if result.Stats.Measured != 18 {
		t.Errorf("Measured = %d, want 18", result.Stats.Measured)
	}
	if _, ok := app.Store.Get("p1"); !ok {
		t.Error("result should be stored under p1")
	}

	batch.Layout = "wide"
	result, err = app.Process(batch, "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Layout != "wide" {
		t.Errorf("expected batch layout wide, got %s", result.Layout)
	}

	result, err = app.Process(batch, "row3")
	if err != nil {
		t.Fatal(err)
	}
	if result.Layout != "row3" {
		t.Errorf("expected override row3, got %s", result.Layout)
	}

	if _, err := app.Process(batch, "nope"); err == nil {
		t.Error("expected error for unknown layout")
	}
}

func TestEngineFor_Cached(t *testing.T) {
	app := newTestApp(t)
	a, err := app.engineFor("")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := app.engineFor("row3")
	if a != b {
		t.Error("expected the default and named lookup to share an engine")
	}
	c, _ := app.engineFor("wide")
	if a == c {
		t.Error("different layouts should not share an engine")
	}
}

func TestRunOnce_FileOutputs(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "plate-42.json")
	writeFile(t, in, detectionsJSON("", 100, 200))

	app := newTestApp(t)
	app.ApplyOptions(AppOptions{
		DetectionsFile: in,
		OutputFile:     filepath.Join(dir, "out.json"),
		GeoJSONFile:    filepath.Join(dir, "out.geojson"),
		RenderFile:     filepath.Join(dir, "out.svg"),
		Print:          true,
	})
	if err := app.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.json"))
	if err != nil {
		t.Fatal(err)
	}
	var result grid.Result
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("output is not a result: %v", err)
	}
	if result.Plate != "plate-42" {
		t.Errorf("plate should default to the file name, got %q", result.Plate)
	}
	if result.Stats.Measured != 12 || result.Stats.Invalid != 6 {
		t.Errorf("unexpected stats %+v", result.Stats)
	}

	geo, err := os.ReadFile(filepath.Join(dir, "out.geojson"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(geo), `"FeatureCollection"`) {
		t.Error("GeoJSON output missing FeatureCollection")
	}

	svg, err := os.ReadFile(filepath.Join(dir, "out.svg"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(svg), "<svg") {
		t.Error("render output is not SVG")
	}

	printed := app.Out.(*bytes.Buffer).String()
	if !strings.HasPrefix(printed, "PositionArray layout=row3 WellRow=1") {
		t.Errorf("summary not printed, got: %s", printed)
	}
}

func TestRunOnce_Stdout(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "p.json")
	writeFile(t, in, detectionsJSON("named", 100))

	app := newTestApp(t)
	app.ApplyOptions(AppOptions{DetectionsFile: in, OutputFile: "-"})
	if err := app.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var result grid.Result
	if err := json.Unmarshal(app.Out.(*bytes.Buffer).Bytes(), &result); err != nil {
		t.Fatalf("stdout is not a result: %v", err)
	}
	if result.Plate != "named" {
		t.Errorf("envelope plate should win, got %q", result.Plate)
	}
}

func TestRunOnce_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(detectionsJSON("remote", 100, 200, 300))
	}))
	defer srv.Close()

	app := newTestApp(t)
	app.ApplyOptions(AppOptions{FetchURL: srv.URL})
	if err := app.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	result, ok := app.Store.Get("remote")
	if !ok {
		t.Fatal("fetched plate not stored")
	}
	if result.Stats.Measured != 18 {
		t.Errorf("Measured = %d, want 18", result.Stats.Measured)
	}
}

func TestRunOnce_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, []byte("{"))
	good := filepath.Join(dir, "good.json")
	writeFile(t, good, detectionsJSON("", 100))

	tests := []struct {
		name string
		opts AppOptions
		want string
	}{
		{"missing file", AppOptions{DetectionsFile: filepath.Join(dir, "none.json")}, "loading detections"},
		{"bad json", AppOptions{DetectionsFile: bad}, "parsing JSON"},
		{"unknown layout", AppOptions{DetectionsFile: good, Layout: "zz"}, "unknown layout"},
		{"bad render ext", AppOptions{DetectionsFile: good, RenderFile: filepath.Join(dir, "x.gif")}, "unsupported render format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			app.ApplyOptions(tt.opts)
			err := app.RunOnce()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRenderToFile_PNG(t *testing.T) {
	app := newTestApp(t)
	batch, _ := grid.ParseDetectionsJSON(detectionsJSON("p", 100))
	result, err := app.Process(batch, "")
	if err != nil {
		t.Fatal(err)
	}
	layout, _ := app.Config.Layout("")

	path := filepath.Join(t.TempDir(), "overlay.png")
	if err := renderToFile(result, layout, path); err != nil {
		t.Fatalf("renderToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
}

func TestHandleBatch(t *testing.T) {
	app := newTestApp(t)

	batch, _ := grid.ParseDetectionsJSON(detectionsJSON("mq-1", 100, 200))
	app.handleBatch(batch, nil)
	if _, ok := app.Store.Get("mq-1"); !ok {
		t.Error("handled batch should be stored")
	}

	app.handleBatch(&grid.Batch{Plate: "broken"}, fmt.Errorf("parsing JSON: bad"))
	if _, ok := app.Store.Get("broken"); ok {
		t.Error("a batch with a parse error must not be stored")
	}

	app.ApplyOptions(AppOptions{Layout: "nope"})
	app.handleBatch(&grid.Batch{Plate: "unknown-layout"}, nil)
	if _, ok := app.Store.Get("unknown-layout"); ok {
		t.Error("a batch that fails to process must not be stored")
	}
}

func TestPrintServiceInfo(t *testing.T) {
	app := newTestApp(t)
	app.ApplyOptions(AppOptions{MqttMode: true, HttpMode: true})
	app.printServiceInfo()

	out := app.Out.(*bytes.Buffer).String()
	for _, want := range []string{
		"Layouts: row3, wide (default row3)",
		"Subscribed: " + grid.DefaultDetectionsTopic,
		"Publishing to: test/{plate}/result",
		"POST /reconcile",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("service info missing %q:\n%s", want, out)
		}
	}
}
