package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/kwv/wellgrid/grid"
)

// maxUploadBytes caps POST /reconcile bodies
const maxUploadBytes = 8 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Plates    int       `json:"plates"`
			Layouts   []string  `json:"layouts"`
			MQTT      bool      `json:"mqtt"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Plates:    app.Store.Len(),
			Layouts:   app.Config.LayoutNames(),
			MQTT:      app.Subscriber != nil && app.Subscriber.IsConnected(),
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("POST /reconcile", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			http.Error(w, "Error reading body", http.StatusBadRequest)
			return
		}
		batch, err := grid.ParseDetectionsJSON(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if plate := r.URL.Query().Get("plate"); plate != "" {
			batch.Plate = plate
		}

		result, err := app.Process(batch, r.URL.Query().Get("layout"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("[HTTP] Reconciled plate %s (%s): %d measured, %d inferred",
			result.Plate, result.Layout, result.Stats.Measured, result.Stats.Inferred)
		writeJSON(w, result)
	})

	mux.HandleFunc("GET /plates", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, app.Store.Plates())
	})

	mux.HandleFunc("GET /plates/{file}", func(w http.ResponseWriter, r *http.Request) {
		file := r.PathValue("file")
		ext := path.Ext(file)
		plate := strings.TrimSuffix(file, ext)

		result, ok := app.Store.Get(plate)
		if !ok {
			http.Error(w, "Unknown plate", http.StatusNotFound)
			return
		}
		layout, err := app.Config.Layout(result.Layout)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		switch ext {
		case ".json":
			writeJSON(w, result)
		case ".geojson":
			data, err := grid.MarshalGeoJSON(result, layout.Window)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/geo+json")
			_, _ = w.Write(data)
		case ".svg":
			w.Header().Set("Content-Type", "image/svg+xml")
			if err := grid.NewOverlayRenderer(result, layout.Window).RenderToSVG(w); err != nil {
				log.Printf("[HTTP] Error rendering SVG for %s: %v", plate, err)
			}
		case ".png":
			w.Header().Set("Content-Type", "image/png")
			if err := grid.NewOverlayRenderer(result, layout.Window).RenderToPNG(w); err != nil {
				log.Printf("[HTTP] Error rendering PNG for %s: %v", plate, err)
			}
		case ".txt":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, result.Summary())
		default:
			http.Error(w, "Unsupported format", http.StatusNotFound)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
	}
}
