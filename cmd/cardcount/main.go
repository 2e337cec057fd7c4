package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rxtx-hosting/cardcount/internal/config"
	"github.com/rxtx-hosting/cardcount/pkg/durations"
	"github.com/rxtx-hosting/cardcount/pkg/estimator"
	"github.com/rxtx-hosting/cardcount/pkg/exporter"
)

var (
	configPath    = flag.String("config", "/etc/cardcount/config.yaml", "Path to configuration file")
	durationsPath = flag.String("durations", "", "Duration CSV file (overrides config)")
	asn           = flag.Uint("as", 3320, "Autonomous system to estimate")
	ips           = flag.Int("ips", 7, "Number of unique addresses observed in the window")
	windowStart   = flag.Int64("start", 1514761200, "Window start")
	windowEnd     = flag.Int64("end", 1514761200+7*24*60*60, "Window end")
	seed          = flag.Uint64("seed", 0, "Random seed (overrides config when non-zero)")
	serve         = flag.Bool("serve", false, "Serve estimates over HTTP instead of printing one")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	if *durationsPath != "" {
		cfg.DurationsFile = *durationsPath
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	store, err := durations.LoadFile(cfg.DurationsFile)
	if err != nil {
		log.Fatalf("Failed to load durations: %v", err)
	}

	est := estimator.NewEstimator(estimator.Options{
		Resamples:     cfg.Resamples,
		Confidence:    cfg.Confidence,
		Workers:       cfg.Workers,
		MaxResamples:  cfg.MaxResamples,
		MaxSampleSize: cfg.MaxSampleSize,
	})

	if *serve {
		runServer(cfg, store, est)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	result, err := est.Estimate(ctx, store, uint32(*asn), *ips, *windowStart, *windowEnd, rng)
	if err != nil {
		log.Fatalf("Failed to estimate hosts: %v", err)
	}

	fmt.Printf("%v %v %v\n", result.NumHosts, result.LowerBound, result.UpperBound)
}

func runServer(cfg *config.Config, store *durations.Store, est *estimator.Estimator) {
	var recorder exporter.Recorder
	if cfg.PrometheusAddr != "" {
		promExporter := exporter.NewPrometheusExporter()
		recorder = promExporter
		go func() {
			slog.Info("Starting Prometheus server", "address", cfg.PrometheusAddr)
			if err := promExporter.StartServer(cfg.PrometheusAddr); err != nil {
				log.Fatalf("Failed to start Prometheus server: %v", err)
			}
		}()
	}

	apiServer, err := exporter.NewAPIServer(cfg.APIKey, store, est, cfg.Seed, cfg.CacheSize, recorder)
	if err != nil {
		log.Fatalf("Failed to initialize API server: %v", err)
	}

	go func() {
		slog.Info("Starting API server", "address", cfg.ServerAddr, "asns", len(store.ASNs()), "durations", store.Len())
		if err := apiServer.StartServer(cfg.ServerAddr); err != nil {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("Received shutdown signal, exiting")
}
