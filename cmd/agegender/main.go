package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/erictom97/gender-age/cli"
	"github.com/erictom97/gender-age/config"
	"github.com/erictom97/gender-age/detections"
	"github.com/erictom97/gender-age/logger"
	"github.com/erictom97/gender-age/server"
	"golang.org/x/term"
)

const helpBanner = `Age and gender detection

Usage:
  agegender --image <path> [--no-window] [--output <path>]   detect in one image
  agegender [--addr host:port]                               serve the web page

Flags:
`

var (
	imagePath = flag.String("image", "", "Path to the image file")
	modelDir  = flag.String("models", "", "Directory holding the six model files (default: next to the binary)")
	threshold = flag.Float64("threshold", 0, "Face confidence threshold, exclusive")
	noWindow  = flag.Bool("no-window", false, "Do not open a display window")
	output    = flag.String("output", "", "Write the annotated image to this path")
	overlay   = flag.String("overlay", "", "Label placement: per-face or first-box")
	addr      = flag.String("addr", "", "Listen address in server mode")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, helpBanner)
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New()

	exeDir, err := detections.ExecutableDir()
	if err != nil {
		log.Fatalf("Failed to locate executable: %v", err)
	}
	cfg, err := config.Load(exeDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(&cfg)

	validate := config.NewValidator()
	if err := cfg.Validate(validate); err != nil {
		log.Fatal(err)
	}

	paths := detections.DefaultModelPaths(cfg.ModelDir)
	pipeline := detections.Options{
		Threshold: float32(cfg.ConfidenceThreshold),
		Overlay:   detections.OverlayMode(cfg.OverlayMode),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *imagePath != "" {
		os.Exit(runBatch(ctx, paths, pipeline))
	}

	pool, err := server.NewModelPool(func() (*detections.Models, error) {
		return detections.LoadModels(paths)
	}, cfg.PoolSize, cfg.PoolAcquireTimeout)
	if err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}
	defer pool.Destroy()

	srv, err := server.NewServer(
		server.WithPool(pool),
		server.WithLogger(log),
		server.WithValidator(validate),
		server.WithPipeline(pipeline),
		server.WithOutputFormat(detections.OutputFormat(cfg.OutputFormat)),
		server.WithMaxUploadBytes(cfg.MaxUploadBytes),
		server.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		server.WithTimeouts(cfg.ReadTimeout, cfg.WriteTimeout),
	)
	if err != nil {
		log.Fatal(err)
	}

	if err := srv.Run(ctx, cfg.Addr); err != nil {
		log.Errorf("Server stopped: %v", err)
		pool.Destroy()
		os.Exit(1)
	}
}

func runBatch(ctx context.Context, paths detections.ModelPaths, pipeline detections.Options) int {
	m, err := detections.LoadModels(paths)
	if err != nil {
		logger.Fatal(logger.Fields{"error": err.Error()}, "Failed to load models")
	}
	defer m.Destroy()

	opts := cli.Options{
		ImagePath: *imagePath,
		Output:    *output,
		NoWindow:  *noWindow || !term.IsTerminal(int(os.Stdout.Fd())),
		Pipeline:  pipeline,
	}
	if err := cli.Run(ctx, m, opts, os.Stdout, cli.ShowWindow); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "models":
			cfg.ModelDir = *modelDir
		case "threshold":
			cfg.ConfidenceThreshold = *threshold
		case "overlay":
			cfg.OverlayMode = *overlay
		case "addr":
			cfg.Addr = *addr
		}
	})
}
