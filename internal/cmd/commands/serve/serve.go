// Package serve implements the long-running query service command.
package serve

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/docfoundry/docfoundry/internal/api"
	"github.com/docfoundry/docfoundry/internal/cmd/base"
	"github.com/docfoundry/docfoundry/internal/server"
	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/database"
	"github.com/docfoundry/docfoundry/pkg/rag"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

type Command struct {
	*base.Command

	flagAddr            string
	flagSettingsRefresh time.Duration
}

func (c *Command) Synopsis() string {
	return "Run the document query service"
}

func (c *Command) Help() string {
	return `Usage: docfoundry serve [options]

  Runs the HTTP query service: health, provider listing, question
  answering, multi-turn chat, and document search over the indexed
  corpus.

  Database connection settings come from the DOCFOUNDRY_DB_* environment
  variables (or DOCFOUNDRY_DB_DSN).

Options:

  -addr=<address>
      Listen address for the HTTP server. Defaults to :8000.

  -settings-refresh=<duration>
      Interval between settings reloads from the database. Model and
      prompt changes take effect without a restart. 0 disables
      refreshing. Defaults to 30s.
`
}

func (c *Command) Flags() *flag.FlagSet {
	f := flag.NewFlagSet("serve", flag.ContinueOnError)
	f.StringVar(&c.flagAddr, "addr", ":8000", "listen address")
	f.DurationVar(&c.flagSettingsRefresh, "settings-refresh", 30*time.Second,
		"settings reload interval (0 disables)")
	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, base.DatabaseConfigFromEnv(), c.Log.Named("db"))
	if err != nil {
		return c.ErrorOut(fmt.Errorf("connecting to database: %w", err))
	}
	if err := database.Migrate(db, c.Log); err != nil {
		return c.ErrorOut(fmt.Errorf("migrating database: %w", err))
	}

	svc := settings.NewService(db, c.Log.Named("settings"))
	if err := svc.Load(ctx); err != nil {
		return c.ErrorOut(fmt.Errorf("loading settings: %w", err))
	}
	aiCfg := svc.GetAiSettings()

	store, err := chunkstore.NewStore(db, aiCfg.EmbeddingDimensions, c.Log.Named("store"))
	if err != nil {
		return c.ErrorOut(fmt.Errorf("creating chunk store: %w", err))
	}

	srv := &server.Server{
		DB:       db,
		Store:    store,
		Settings: svc,
		Logger:   c.Log,
	}

	router := api.NewRouter(api.RouterConfig{
		Store:     store,
		Providers: srv,
		Components: func() (rag.Embedder, rag.Completer, settings.AiConfig, error) {
			client, embedder, cfg, err := srv.Components()
			if err != nil {
				return nil, nil, cfg, err
			}
			return embedder, client, cfg, nil
		},
		LoadedAt: svc.LoadedAt,
		Logger:   c.Log,
	})

	if c.flagSettingsRefresh > 0 {
		go c.refreshSettings(ctx, svc)
	}

	httpServer := &http.Server{
		Addr:              c.flagAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.Log.Info("query service listening", "addr", c.flagAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return c.ErrorOut(fmt.Errorf("http server: %w", err))
		}
	case <-ctx.Done():
		c.Log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			c.Log.Error("graceful shutdown failed", "error", err)
			return 1
		}
	}

	c.Log.Info("query service stopped")
	return 0
}

// refreshSettings reloads provider and AI settings until the context is
// cancelled. Reload failures keep the last good snapshot.
func (c *Command) refreshSettings(ctx context.Context, svc *settings.Service) {
	ticker := time.NewTicker(c.flagSettingsRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Reload(ctx); err != nil {
				c.Log.Warn("settings reload failed", "error", err)
			}
		}
	}
}
