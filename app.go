package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/wellgrid/grid"
)

const (
	defaultHTTPPort = 4040

	// lowQualityThreshold is the measured fraction below which a plate is logged as a warning
	lowQualityThreshold = 0.5
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *grid.Config
	Store      *grid.ResultStore
	Subscriber *grid.Subscriber
	Publisher  *grid.Publisher
	Out        io.Writer

	opts    AppOptions
	engines map[string]*grid.Engine
	mu      sync.Mutex
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Store:   grid.NewResultStore(),
		Out:     os.Stdout,
		engines: make(map[string]*grid.Engine),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// loadConfig reads --config, or falls back to the built-in layouts, then
// applies MQTT_* environment overrides.
func (a *App) loadConfig() error {
	if a.Config != nil {
		return nil
	}

	var config *grid.Config
	if a.opts.ConfigFile == "" {
		config = grid.DefaultConfig()
		log.Printf("Using built-in layouts: %s", strings.Join(config.LayoutNames(), ", "))
	} else {
		var err error
		config, err = grid.LoadConfig(a.opts.ConfigFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		log.Printf("Loaded config from %s", a.opts.ConfigFile)
	}
	config.ApplyEnv()
	a.Config = config
	return nil
}

// engineFor returns a cached engine for a layout name ("" is the default layout)
func (a *App) engineFor(name string) (*grid.Engine, error) {
	layout, err := a.Config.Layout(name)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.engines[layout.Name]; ok {
		return e, nil
	}
	e := grid.NewEngine(layout)
	a.engines[layout.Name] = e
	return e, nil
}

// Process reconciles one batch and stores the result. The layout is chosen
// from override, then the batch, then the config default.
func (a *App) Process(batch *grid.Batch, override string) (*grid.Result, error) {
	name := override
	if name == "" {
		name = batch.Layout
	}
	engine, err := a.engineFor(name)
	if err != nil {
		return nil, err
	}

	result := engine.Run(batch)
	a.Store.Put(result)

	if result.LowQuality(lowQualityThreshold) {
		log.Printf("Warning: plate %s: only %.0f%% of %d valid slots measured",
			result.Plate, 100*result.Stats.MeasuredFraction(), result.Stats.Measured+result.Stats.Inferred)
	}
	return result, nil
}

// RunOnce reconciles a single detections document and writes the requested outputs
func (a *App) RunOnce() error {
	if err := a.loadConfig(); err != nil {
		return err
	}

	var batch *grid.Batch
	var err error
	if a.opts.FetchURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		batch, err = grid.FetchDetections(ctx, a.opts.FetchURL)
	} else {
		batch, err = grid.ParseDetectionsFile(a.opts.DetectionsFile)
		if err == nil && batch.Plate == "" {
			batch.Plate = strings.TrimSuffix(filepath.Base(a.opts.DetectionsFile), filepath.Ext(a.opts.DetectionsFile))
		}
	}
	if err != nil {
		return fmt.Errorf("loading detections: %w", err)
	}

	result, err := a.Process(batch, a.opts.Layout)
	if err != nil {
		return err
	}
	log.Printf("Plate %s (%s): %d detections, %d clusters, %d measured, %d inferred, %d invalid",
		result.Plate, result.Layout, result.Stats.Detections, result.Stats.Clusters,
		result.Stats.Measured, result.Stats.Inferred, result.Stats.Invalid)

	return a.writeOutputs(result)
}

func (a *App) writeOutputs(result *grid.Result) error {
	layout, err := a.Config.Layout(result.Layout)
	if err != nil {
		return err
	}

	if a.opts.OutputFile != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		if a.opts.OutputFile == "-" {
			if _, err := a.Out.Write(append(data, '\n')); err != nil {
				return fmt.Errorf("writing result: %w", err)
			}
		} else if err := os.WriteFile(a.opts.OutputFile, data, 0644); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}

	if a.opts.GeoJSONFile != "" {
		data, err := grid.MarshalGeoJSON(result, layout.Window)
		if err != nil {
			return err
		}
		if err := os.WriteFile(a.opts.GeoJSONFile, data, 0644); err != nil {
			return fmt.Errorf("writing GeoJSON: %w", err)
		}
	}

	if a.opts.RenderFile != "" {
		if err := renderToFile(result, layout, a.opts.RenderFile); err != nil {
			return err
		}
		log.Printf("Saved overlay to %s", a.opts.RenderFile)
	}

	if a.opts.Print {
		fmt.Fprint(a.Out, result.Summary())
	}
	return nil
}

func renderToFile(result *grid.Result, layout grid.Layout, path string) error {
	renderer := grid.NewOverlayRenderer(result, layout.Window)
	renderer.SpotRadius = layout.CircleRadius
	if renderer.SpotRadius <= 0 {
		renderer.SpotRadius = 2
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".svg" && ext != ".png" {
		return fmt.Errorf("unsupported render format %q (use .svg or .png)", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if ext == ".svg" {
		err = renderer.RenderToSVG(f)
	} else {
		err = renderer.RenderToPNG(f)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return nil
}

// handleBatch is the MQTT callback: reconcile and publish
func (a *App) handleBatch(batch *grid.Batch, err error) {
	if err != nil {
		log.Printf("[MQTT] Dropping detections for plate %s: %v", batch.Plate, err)
		return
	}
	result, err := a.Process(batch, a.opts.Layout)
	if err != nil {
		log.Printf("[MQTT] Error processing plate %s: %v", batch.Plate, err)
		return
	}
	if a.Publisher != nil {
		if err := a.Publisher.PublishResult(result); err != nil {
			log.Printf("[MQTT] Error publishing plate %s: %v", batch.Plate, err)
		}
	}
}

// RunService starts MQTT and/or HTTP and blocks until SIGINT or SIGTERM
func (a *App) RunService() error {
	if err := a.loadConfig(); err != nil {
		return err
	}

	if a.opts.MqttMode {
		sub, err := grid.InitMQTT(a.Config, a.handleBatch)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if sub == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.Subscriber = sub
		a.Publisher = grid.NewPublisher(sub.Client(), a.Config.MQTT.PublishPrefix)
		log.Println("[MQTT] Result publisher initialized")
	}

	var server *http.Server
	if a.opts.HttpMode {
		port := a.opts.HttpPort
		if port == 0 {
			port = a.Config.HTTP.Port
		}
		if port == 0 {
			port = defaultHTTPPort
		}
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", port),
			Handler:           newHTTPServer(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.Subscriber != nil {
		a.Subscriber.Disconnect()
	}
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	fmt.Fprintf(a.Out, "Layouts: %s (default %s)\n", strings.Join(a.Config.LayoutNames(), ", "), a.Config.DefaultLayout)

	if a.opts.MqttMode {
		topic := a.Config.MQTT.DetectionsTopic
		if topic == "" {
			topic = grid.DefaultDetectionsTopic
		}
		prefix := a.Config.MQTT.PublishPrefix
		if prefix == "" {
			prefix = grid.DefaultPublishPrefix
		}
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Subscribed: %s\n", topic)
		fmt.Fprintf(a.Out, "  Publishing to: %s/{plate}/result and %s/{plate}/summary\n", prefix, prefix)
	}

	if a.opts.HttpMode {
		fmt.Fprintln(a.Out, "\nHTTP endpoints:")
		fmt.Fprintln(a.Out, "  GET  /health                  - Health check")
		fmt.Fprintln(a.Out, "  POST /reconcile?layout=NAME   - Reconcile a detections document")
		fmt.Fprintln(a.Out, "  GET  /plates                  - Plates with a stored result")
		fmt.Fprintln(a.Out, "  GET  /plates/{id}.json        - Latest result (also .geojson, .svg, .png, .txt)")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
