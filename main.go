package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile     string
	Layout         string
	DetectionsFile string
	FetchURL       string
	OutputFile     string
	GeoJSONFile    string
	RenderFile     string
	Print          bool
	MqttMode       bool
	HttpMode       bool
	HttpPort       int
}

// Application is what run drives; App is the production implementation
type Application interface {
	ApplyOptions(opts AppOptions)
	RunOnce() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Error: %v", err)
	}
}

// run parses args and dispatches to one-shot or service mode
func run(args []string, out io.Writer, app Application) error {
	fs := flag.NewFlagSet("wellgrid", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to configuration file (default: built-in layouts)")
	fs.StringVar(&opts.Layout, "layout", "", "Layout name (default: from detections or config)")
	fs.StringVar(&opts.DetectionsFile, "detections", "", "Detections JSON file to reconcile")
	fs.StringVar(&opts.FetchURL, "fetch", "", "Detector API URL to fetch detections from")
	fs.StringVar(&opts.OutputFile, "output", "", "Write result JSON to this path (- for stdout)")
	fs.StringVar(&opts.GeoJSONFile, "geojson", "", "Write result GeoJSON to this path")
	fs.StringVar(&opts.RenderFile, "render", "", "Write an overlay to this path (.svg or .png)")
	fs.BoolVar(&opts.Print, "print", false, "Print the position array summary")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run as a service consuming detections over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Run as a service with the HTTP API")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default: from config or 4040)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "wellgrid version: %s\n", Version)
	app.ApplyOptions(opts)

	if opts.MqttMode || opts.HttpMode {
		fmt.Fprintln(out, "wellgrid service starting...")
		return app.RunService()
	}

	if opts.DetectionsFile == "" && opts.FetchURL == "" {
		fs.Usage()
		return fmt.Errorf("one of --detections, --fetch, --mqtt or --http is required")
	}
	return app.RunOnce()
}
