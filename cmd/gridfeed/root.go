package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gridfeed/gridfeed/internal/analytics"
	"github.com/gridfeed/gridfeed/internal/api"
	"github.com/gridfeed/gridfeed/internal/config"
	"github.com/gridfeed/gridfeed/internal/fetch"
	"github.com/gridfeed/gridfeed/internal/registry"
	"github.com/gridfeed/gridfeed/internal/sched"
	"github.com/gridfeed/gridfeed/internal/scrape"
	"github.com/gridfeed/gridfeed/internal/store"
)

// errUsage marks bad flag combinations; they exit as configuration errors.
var errUsage = errors.New("invalid usage")

// app holds the wired process for one command invocation.
type app struct {
	config   *config.Config
	registry *registry.Registry
	store    *store.Store
	orch     *scrape.Orchestrator
	sched    *sched.Scheduler
	api      *api.Server
}

// bootstrap loads configuration, opens the store and wires every component.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	cfg.SetupLogging()

	reg, err := registry.Load(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabaseURL, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	if err := st.SyncSources(ctx, reg); err != nil {
		st.Close()
		return nil, err
	}

	orch := scrape.New(reg, fetch.New(cfg.Fetch), st, cfg.Workers)
	return &app{
		config:   cfg,
		registry: reg,
		store:    st,
		orch:     orch,
		sched:    sched.New(orch, reg, cfg.Workers),
		api:      api.New(cfg.API, st, analytics.New(st)),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gridfeed",
		Short:         "Grid market data ingestion and read API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newScrapeCmd(), newScheduleCmd())
	return root
}
