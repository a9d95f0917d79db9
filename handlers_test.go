package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kwv/wellgrid/grid"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// populatedApp returns a test App that already holds a result for plate "p1"
func populatedApp(t *testing.T) *App {
	t.Helper()
	app := newTestApp(t)
	batch, err := grid.ParseDetectionsJSON(detectionsJSON("p1", 100, 200))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := app.Process(batch, ""); err != nil {
		t.Fatal(err)
	}
	return app
}

func serve(handler http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// /health
// ---------------------------------------------------------------------------

func TestHealth_Empty(t *testing.T) {
	w := serve(newHTTPServer(newTestApp(t)), http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Status  string   `json:"status"`
		Plates  int      `json:"plates"`
		Layouts []string `json:"layouts"`
		MQTT    bool     `json:"mqtt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding /health: %v", err)
	}
	if body.Status != "ok" || body.Plates != 0 || body.MQTT {
		t.Errorf("unexpected health %+v", body)
	}
	if strings.Join(body.Layouts, ",") != "row3,wide" {
		t.Errorf("Layouts = %v", body.Layouts)
	}
}

func TestHealth_WithPlates(t *testing.T) {
	w := serve(newHTTPServer(populatedApp(t)), http.MethodGet, "/health", nil)
	if !strings.Contains(w.Body.String(), `"plates":1`) {
		t.Errorf("expected one plate, got %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// POST /reconcile
// ---------------------------------------------------------------------------

func TestReconcile(t *testing.T) {
	app := newTestApp(t)
	handler := newHTTPServer(app)

	w := serve(handler, http.MethodPost, "/reconcile?plate=posted", detectionsJSON("", 100, 200, 300))
	if w.Code != http.StatusOK {
		t.Fatalf("/reconcile status = %d, body=%q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var result grid.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Plate != "posted" || result.Layout != "row3" {
		t.Errorf("plate/layout = %q/%q", result.Plate, result.Layout)
	}
	if result.Stats.Measured != 18 {
		t.Errorf("Measured = %d, want 18", result.Stats.Measured)
	}
	if _, ok := app.Store.Get("posted"); !ok {
		t.Error("reconciled plate should be stored")
	}
}

func TestReconcile_LayoutQuery(t *testing.T) {
	w := serve(newHTTPServer(newTestApp(t)), http.MethodPost, "/reconcile?layout=wide", detectionsJSON("x", 100))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"layout":"wide"`) {
		t.Errorf("expected wide layout, got %s", w.Body.String())
	}
}

func TestReconcile_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   []byte
	}{
		{"malformed body", "/reconcile", []byte("{")},
		{"empty body", "/reconcile", nil},
		{"unknown layout", "/reconcile?layout=zz", detectionsJSON("x", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newHTTPServer(newTestApp(t)), http.MethodPost, tt.target, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestReconcile_MethodNotAllowed(t *testing.T) {
	w := serve(newHTTPServer(newTestApp(t)), http.MethodGet, "/reconcile", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

// ---------------------------------------------------------------------------
// /plates
// ---------------------------------------------------------------------------

func TestPlates_List(t *testing.T) {
	w := serve(newHTTPServer(populatedApp(t)), http.MethodGet, "/plates", nil)
	var plates []string
	if err := json.Unmarshal(w.Body.Bytes(), &plates); err != nil {
		t.Fatal(err)
	}
	if len(plates) != 1 || plates[0] != "p1" {
		t.Errorf("plates = %v", plates)
	}
}

func TestPlate_Formats(t *testing.T) {
	handler := newHTTPServer(populatedApp(t))
	tests := []struct {
		path        string
		contentType string
		contains    string
	}{
		{"/plates/p1.json", "application/json", `"plate":"p1"`},
		{"/plates/p1.geojson", "application/geo+json", `"FeatureCollection"`},
		{"/plates/p1.svg", "image/svg+xml", "<svg"},
		{"/plates/p1.png", "image/png", "\x89PNG"},
		{"/plates/p1.txt", "text/plain; charset=utf-8", "PositionArray layout=row3"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(handler, http.MethodGet, tt.path, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("%s status = %d, body=%q", tt.path, w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.contentType)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
				t.Errorf("Cache-Control = %q", cc)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("body does not contain %q", tt.contains)
			}
		})
	}
}

func TestPlate_NotFound(t *testing.T) {
	handler := newHTTPServer(populatedApp(t))
	for _, path := range []string{"/plates/missing.json", "/plates/p1.bmp"} {
		w := serve(handler, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusNotFound)
		}
	}
}
