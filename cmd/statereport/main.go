package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"statereport/internal/alerts"
	"statereport/internal/api"
	"statereport/internal/config"
	"statereport/internal/engine"
	"statereport/internal/ingest"
	"statereport/internal/intervals"
	"statereport/internal/logging"
	"statereport/internal/metrics"
	"statereport/internal/model"
	"statereport/internal/publish"
	"statereport/internal/states"
	"statereport/internal/storage"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	cmd := os.Args[1]
	var err error
	switch cmd {
	case "extract":
		err = extractCommand(os.Args[2:], os.Stdout)
	case "serve":
		err = serveCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	default:
		printUsage(os.Stderr)
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("statereport %s: %v", cmd, err)
	}
}

func extractCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	in := fs.String("in", "-", "Sample file (JSON lines, JSON array, CSV or key=value); - reads stdin")
	cfgPath := fs.String("config", "", "Optional config file for the alert policy and parser settings")
	alertStates := fs.String("alert-states", "", "Comma-separated state values that alert, overriding the config")
	warnings := fs.Bool("warnings", true, "Treat warning intervals as alerts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := config.Load(config.ResolvePath(*cfgPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "alert-states":
			cfg.Extraction.AlertStates = parseAlertStates(*alertStates)
		case "warnings":
			cfg.Extraction.IncludeWarnings = *warnings
		}
	})
	logger := logging.New(os.Stderr, cfg.LogLevel)

	var src ingest.Source
	if *in == "-" {
		src = ingest.NewReaderSource(os.Stdin, config.NewStaticManager(cfg))
	} else {
		src = ingest.NewFileSource(*in, config.NewStaticManager(cfg), logger)
	}
	samples, err := src.Next(context.Background())
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	all, alertList, err := intervals.Extract(samples, cfg.Extraction.AlertStateSet(), cfg.Extraction.IncludeWarnings)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Intervals []model.Interval `json:"intervals"`
		Alerts    []model.Interval `json:"alerts"`
	}{all, alertList})
}

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "statereport.yaml", "Path to service configuration file")
	watch := fs.Duration("watch", 3*time.Second, "Config reload poll interval; 0 disables hot reload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mgr, err := config.NewManager(config.ResolvePath(*cfgPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	var publisher publish.Publisher
	if cfg.Publish.Kafka.Enabled {
		kp, err := publish.NewKafkaPublisher(cfg.Publish.Kafka)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer kp.Close()
		publisher = kp
		logger.Info("alert publishing enabled", "brokers", cfg.Publish.Kafka.Brokers, "topic", cfg.Publish.Kafka.Topic)
	}

	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)
	statesStore := states.NewStore(cfg.States.StoreLimit)
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	eng := engine.NewEngine(cfg, logger, statesStore, alertsStore, store, publisher, collectors)

	srv := api.NewServer(mgr, statesStore, alertsStore, store, eng, prometheus.DefaultGatherer, logger, version)
	api.Start(ctx, srv)

	if cfg.Ingest.File.Enabled {
		runSource(ctx, logger, eng, "file", ingest.NewFileSource(cfg.Ingest.File.Path, mgr, logger))
	}
	if cfg.Ingest.Kafka.Enabled {
		ks := ingest.NewKafkaSource(mgr, logger)
		defer ks.Close()
		runSource(ctx, logger, eng, "kafka", ks)
	}

	if *watch > 0 {
		go mgr.Watch(ctx, *watch, func(next *config.Config) {
			eng.UpdateConfig(next)
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		})
	}

	logger.Info("statereport started", "version", version)
	<-ctx.Done()
	logger.Info("statereport stopping")
	return nil
}

func runSource(ctx context.Context, logger *slog.Logger, eng *engine.Engine, name string, src ingest.Source) {
	done := eng.Start(ctx, src)
	go func() {
		if err := <-done; err != nil {
			logger.Error("ingest stopped", "source", name, "err", err)
			return
		}
		logger.Info("ingest finished", "source", name)
	}()
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "statereport.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := config.Load(config.ResolvePath(*cfgPath)); err != nil {
		return err
	}
	fmt.Printf("config %s is valid\n", *cfgPath)
	return nil
}

// parseAlertStates reads a comma list; numeric tokens become numbers and
// everything else text.
func parseAlertStates(raw string) []model.Value {
	out := make([]model.Value, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if f, err := strconv.ParseFloat(part, 64); err == nil {
			out = append(out, model.Number(f))
			continue
		}
		out = append(out, model.Text(part))
	}
	return out
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `statereport

Usage:
  statereport <command> [flags]

Commands:
  extract    Extract intervals and alert records from a sample file
  serve      Run the API, ingest sources and alert publishing from a config file
  validate   Load and validate a config file

Examples:
  statereport extract -in samples.jsonl -alert-states 1,2 -warnings=false
  statereport serve -config ./statereport.yaml
  statereport validate -config ./statereport.yaml
`)
}
