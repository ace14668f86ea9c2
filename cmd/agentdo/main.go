// Command agentdo runs the task board server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/wrannaman/agentdo/api"
	"github.com/wrannaman/agentdo/auth"
	"github.com/wrannaman/agentdo/board"
	"github.com/wrannaman/agentdo/config"
	"github.com/wrannaman/agentdo/logging"
	"github.com/wrannaman/agentdo/longpoll"
	"github.com/wrannaman/agentdo/ratelimit"
	"github.com/wrannaman/agentdo/search"
	"github.com/wrannaman/agentdo/shutdown"
	"github.com/wrannaman/agentdo/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("AGENTDO_CONFIG")
	}

	if err := run(path); err != nil {
		fmt.Fprintf(os.Stderr, "agentdo: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.New()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.Log.Level))
	log = log.WithComponent("main")

	taskStore, keyStore, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}

	index, err := search.NewMemoryIndex()
	if err != nil {
		return err
	}
	if err := seedIndex(index, taskStore); err != nil {
		return fmt.Errorf("rebuild search index: %w", err)
	}

	b := board.New(taskStore,
		board.WithLogger(log),
		board.WithIndex(index),
		board.WithPollConfig(longpoll.Config{
			Timeout:  cfg.PollTimeout(),
			MaxWait:  cfg.PollMaxWait(),
			Interval: cfg.PollInterval(),
		}))

	srv := api.NewServer(b, auth.NewKeyring(keyStore), ratelimit.NewMemoryLimiter(),
		api.WithLogger(log),
		api.WithPollBounds(cfg.PollTimeout(), cfg.PollMaxWait()),
		api.WithPolicies(cfg.Policies()))

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     srv.Handler(),
		ReadTimeout: cfg.ReadTimeout(),
		// Write timeout must outlast the longest poll plus slack.
		WriteTimeout: cfg.PollMaxWait() + cfg.PollTimeout(),
	}

	coord := shutdown.NewCoordinator(log, shutdown.DefaultTimeout)
	coord.Register("http", shutdown.PhaseListener, func(ctx context.Context) error {
		return httpServer.Shutdown(ctx)
	})
	coord.Register("store", shutdown.PhaseStore, func(ctx context.Context) error {
		return closeStore()
	})
	coord.Register("search", shutdown.PhaseStore, func(ctx context.Context) error {
		return index.Close()
	})
	coord.HandleSignals()

	log.Info("listening", map[string]interface{}{
		"addr":    cfg.Server.Addr,
		"backend": cfg.Store.Backend,
	})

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-coord.Done()
	return nil
}

// seedIndex rebuilds the in-memory search index from the store. The index
// is not persisted, so a restart over a sqlite database replays every row.
func seedIndex(index *search.Index, s board.Store) error {
	tasks, _, err := s.List(context.Background(), board.ListFilter{})
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := index.Upsert(task); err != nil {
			return err
		}
	}
	return nil
}

// openStore builds the configured backend. Both backends serve tasks and
// API keys from the same store.
func openStore(cfg *config.Config) (board.Store, auth.KeyStore, func() error, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s, s.Close, nil
	default:
		s := store.NewMemoryStore()
		return s, s, s.Close, nil
	}
}
