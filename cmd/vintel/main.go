// vintel reads game intel chat logs, tracks per-location alarm state and
// serves it to presentation clients.
//
// Usage:
//
//	vintel run [--config vintel.yaml]
//	vintel status [--api http://127.0.0.1:8081]
//	vintel bridges import --file bridges.txt [--config vintel.yaml]
//	vintel bridges export [--config vintel.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Subtalime/vintel-sub001/internal/api"
	"github.com/Subtalime/vintel-sub001/internal/cache"
	"github.com/Subtalime/vintel-sub001/internal/chat"
	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/engine"
	"github.com/Subtalime/vintel-sub001/internal/history"
	"github.com/Subtalime/vintel-sub001/internal/ingest"
	"github.com/Subtalime/vintel-sub001/internal/logging"
	"github.com/Subtalime/vintel-sub001/internal/metrics"
	"github.com/Subtalime/vintel-sub001/internal/model"
	"github.com/Subtalime/vintel-sub001/internal/notify"
	"github.com/Subtalime/vintel-sub001/internal/topology"
)

var version = "dev"

func main() {
	if err := dispatch(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}
	switch args[0] {
	case "run":
		return runServer(args[1:])
	case "status":
		return runStatus(args[1:])
	case "bridges":
		return runBridges(args[1:])
	case "version", "--version":
		fmt.Println("vintel", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `vintel - intel channel processing core

Usage:
  vintel run [--config FILE] [--env-file FILE...]
  vintel status [--api URL]
  vintel bridges import --file FILE [--config FILE]
  vintel bridges export [--config FILE]
  vintel version
`)
}

func addConfigFlags(fs *pflag.FlagSet) (configPath *string, envFiles *[]string) {
	configPath = fs.StringP("config", "c", "vintel.yaml", "config file (yaml or json)")
	envFiles = fs.StringSlice("env-file", []string{".env"}, "dotenv files loaded before the config")
	return
}

func loadConfig(configPath string, envFiles []string) (*config.Manager, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	return config.NewManager(config.ResolvePath(configPath))
}

func runServer(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configPath, envFiles := addConfigFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	mgr, err := loadConfig(*configPath, *envFiles)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openCache(ctx, cfg.Cache, logger)
	defer store.Close()

	edges := loadTopology(ctx, cfg.Topology, store, logger)
	dict, err := loadDictionary(cfg.Locations, edges)
	if err != nil {
		return err
	}
	parser, err := chat.NewParser(cfg.Parser, dict, logger)
	if err != nil {
		return err
	}

	hist := history.NewStore(cfg.Notify.HistoryLimit)
	sinks := notify.Multi{notify.Log{Logger: logger}, hist}
	var kafkaSink *notify.Kafka
	if cfg.Notify.Kafka.Enabled {
		kafkaSink = notify.NewKafka(cfg.Notify.Kafka, logger)
		sinks = append(sinks, kafkaSink)
	}

	eng, err := engine.NewEngine(cfg, logger, store, sinks)
	if err != nil {
		return err
	}
	eng.SetTopology(edges)
	eng.Restore(ctx)

	events := make(chan model.ChatEvent, cfg.Ingest.ChannelBuffer)
	stats := metrics.NewStore(0)
	h := &ingest.Handler{Parser: parser, Out: events, Stats: stats, Logger: logger}
	ingest.StartFileTail(ctx, cfg.Ingest.FileTail, h, store, logger)
	ingest.StartKafka(ctx, cfg.Ingest.Kafka, h, logger)
	ingest.StartREST(ctx, cfg.Ingest.REST, h, logger)
	ingest.StartTCPStream(ctx, cfg.Ingest.TCPStream, h, logger)

	api.Start(ctx, &api.Server{
		Config:      mgr,
		Engine:      eng,
		History:     hist,
		Stats:       stats,
		Parser:      parser,
		Cache:       store,
		CacheDriver: store.Driver(),
		Logger:      logger,
		Version:     version,
	})

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go mgr.Watch(3*time.Second, func(next *config.Config) {
		if err := reloadConfig(eng, parser, next); err != nil {
			logger.Warn("config reload rejected", "err", err)
			return
		}
		logger.Info("config reloaded", "path", mgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stopWatch)

	logger.Info("vintel started", "version", version, "config", mgr.Path(), "cache", store.Driver(), "locations", dict.Len(), "bridges", len(edges))
	// The engine outlives the sources: it stops only once every send under
	// way has landed in events, then drains them.
	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(engineCtx, events)
	}()
	<-ctx.Done()
	h.Close()
	stopEngine()
	<-engineDone

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eng.Persist(persistCtx)
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Warn("kafka notifier close", "err", err)
		}
	}
	logger.Info("vintel stopped")
	return nil
}

// reloadConfig applies next to the engine and the parser, or to neither.
// The parser rules are built first; the engine swap is the last step
// that can fail.
func reloadConfig(eng *engine.Engine, parser *chat.Parser, next *config.Config) error {
	rules, err := chat.NewRules(next.Parser)
	if err != nil {
		return err
	}
	if err := eng.UpdateConfig(next); err != nil {
		return err
	}
	parser.SetRules(rules)
	return nil
}

// openCache falls back to a process-local store when the configured
// backend cannot be reached; the service keeps running without
// persistence.
func openCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) *cache.Store {
	store, err := cache.Open(ctx, cache.OptionsFromConfig(cfg, logger))
	if err != nil {
		logger.Warn("cache unavailable, using memory", "driver", cfg.Driver, "err", err)
		return cache.OpenMemory(logger)
	}
	return store
}

// loadTopology prefers the configured bridge file and refreshes the
// cached copy from it; otherwise the last cached import is used.
func loadTopology(ctx context.Context, cfg config.TopologyConfig, store *cache.Store, logger *slog.Logger) []model.TopologyEdge {
	if cfg.File != "" {
		res, err := topology.Importer{Logger: logger}.ImportFile(config.ResolvePath(cfg.File))
		switch {
		case err != nil:
			logger.Warn("topology file unreadable", "path", cfg.File, "err", err)
		case res.Format == topology.FormatNone:
			logger.Warn("topology file has no bridges", "path", cfg.File, "skipped", res.Skipped)
		default:
			if err := topology.Save(ctx, store, res.Edges, cfg.CacheTTL, time.Now()); err != nil {
				logger.Warn("topology not cached", "err", err)
			}
			return res.Edges
		}
	}
	edges, importedAt, ok := topology.Load(ctx, store)
	if ok {
		logger.Info("topology loaded from cache", "edges", len(edges), "imported_at", importedAt)
	}
	return edges
}

func loadDictionary(cfg config.LocationsConfig, edges []model.TopologyEdge) (*chat.Dictionary, error) {
	names := append([]string(nil), cfg.Names...)
	if cfg.File != "" {
		more, err := chat.LoadNamesFile(config.ResolvePath(cfg.File))
		if err != nil {
			return nil, fmt.Errorf("locations.file: %w", err)
		}
		names = append(names, more...)
	}
	names = append(names, topology.NewGraph(edges).Locations()...)
	return chat.NewDictionary(names), nil
}
