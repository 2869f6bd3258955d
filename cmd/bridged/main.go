// Command bridged is the long-running daemon: it loads one or more bus
// configurations, connects to the broker, and runs every bus
// concurrently until signalled to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"github.com/homenetio/bridge/internal/bridge"
	"github.com/homenetio/bridge/internal/broker"
	"github.com/homenetio/bridge/internal/history"
	"github.com/homenetio/bridge/internal/logger"
	"github.com/homenetio/bridge/internal/wsfeed"
	"golang.org/x/sync/errgroup"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := logger.Init(envOr("LOG_LEVEL", "info"), os.Getenv("LOG_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "bridged: logger init: %v\n", err)
		os.Exit(1)
	}
	log := logger.Log

	configPaths, err := discoverConfigs()
	if err != nil {
		log.Error("discover bus configs failed", "err", err)
		os.Exit(1)
	}
	mqttURL := envOr("MQTT_URL", "tcp://localhost:1883")
	prefix := envOr("MQTT_TOPIC_PREFIX", "homenet")
	historyPath := os.Getenv("HISTORY_DB_PATH")
	wsAddr := os.Getenv("WS_FEED_ADDR")

	cli, err := broker.Connect(broker.Config{
		URL:      mqttURL,
		ClientID: "bridged-" + uuid.NewString(),
		Prefix:   prefix,
	})
	if err != nil {
		log.Error("connect to broker failed", "err", err)
		os.Exit(1)
	}
	defer cli.Close()

	var hist *history.Store
	if historyPath != "" {
		hist, err = history.Open(historyPath)
		if err != nil {
			log.Error("open history store failed", "path", historyPath, "err", err)
			os.Exit(1)
		}
		defer hist.Close()
	}

	var feed *wsfeed.Feed
	if wsAddr != "" {
		feed = wsfeed.New(log)
		mux := http.NewServeMux()
		mux.HandleFunc("/ws/events", feed.Handler())
		go func() {
			log.Info("diagnostic websocket feed listening", "addr", wsAddr)
			if err := http.ListenAndServe(wsAddr, mux); err != nil {
				log.Warn("websocket feed server exited", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("bridged starting", "configs", configPaths, "mqtt", mqttURL, "prefix", prefix)

	var g errgroup.Group
	for _, path := range configPaths {
		path := path
		// eval is left nil: the expression language a bus's guards,
		// lambdas, and automation conditions run is an external
		// collaborator, supplied by whatever embeds this
		// daemon in a deployment that needs it.
		mgr, err := bridge.NewManager(path, cli, cli, nil, prefix, log)
		if err != nil {
			log.Error("bridge manager init failed", "config", path, "err", err)
			os.Exit(1)
		}
		if hist != nil {
			mgr.SetHistory(hist)
		}
		if feed != nil {
			mgr.SetFeed(feed)
		}
		g.Go(func() error {
			err := mgr.Run(ctx)
			if err != nil && err != context.Canceled {
				log.Warn("bus manager exited", "config", path, "err", err)
			}
			return err
		})
	}

	// Wait reports the first manager to return a fatal error, but
	// plain errgroup.Group (unlike WithContext) never cancels the
	// other managers' shared ctx on that error — a bad config reload
	// on one bus doesn't take the rest of the process down.
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Warn("bridged exited", "err", err)
	}
	log.Info("bridged stopped")
}

// discoverConfigs resolves the set of bus configuration files this
// process runs. CONFIG_DIR, when set, globs every *.yaml/*.yml file in
// it so one process can bridge several independent buses; otherwise
// CONFIG_PATH (or its default) names a single bus config.
func discoverConfigs() ([]string, error) {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		var paths []string
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return nil, fmt.Errorf("glob %s: %w", pattern, err)
			}
			paths = append(paths, matches...)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no *.yaml/*.yml bus configs found in %s", dir)
		}
		sort.Strings(paths)
		return paths, nil
	}
	return []string{envOr("CONFIG_PATH", "/etc/homenet/bridge.yaml")}, nil
}
