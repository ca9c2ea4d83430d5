package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/kozaktomas/facegraph/internal/config"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/encoder"
	"github.com/kozaktomas/facegraph/internal/facematch"
	"github.com/kozaktomas/facegraph/internal/logging"
	"github.com/kozaktomas/facegraph/internal/resolve"
	"github.com/spf13/cobra"

	// Storage backends register themselves with the database package.
	_ "github.com/kozaktomas/facegraph/internal/database/mariadb"
	_ "github.com/kozaktomas/facegraph/internal/database/memory"
	_ "github.com/kozaktomas/facegraph/internal/database/postgres"
)

// app holds everything a command needs to talk to the identity graph.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	store    database.IdentityStore
	encoder  *encoder.Client
	resolver *resolve.Resolver
}

// loadConfig reads the configuration and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg := config.Load()
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.New(nil, cfg.LogLevel)
	// Backends opened through the registry log through the default logger.
	log.SetDefault(logger)
	return cfg, logger, nil
}

// resolverOptions maps the matching configuration onto resolver options.
func resolverOptions(cfg *config.Config, logger *log.Logger) (resolve.Options, error) {
	linkage, err := facematch.ParseLinkage(cfg.Matching.Linkage)
	if err != nil {
		return resolve.Options{}, err
	}
	return resolve.Options{
		Dim:            cfg.Encoder.Dim,
		Linkage:        linkage,
		Strategy:       cfg.Matching.Strategy,
		ExtractWorkers: cfg.Matching.ExtractWorkers,
		ClusterWorkers: cfg.Matching.ClusterWorkers,
		Logger:         logger,
	}, nil
}

// newApp opens the configured store and builds the resolver on top of it.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	opts, err := resolverOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening store", "driver", cfg.Database.Driver)
	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	enc := encoder.New(cfg.Encoder.URL, cfg.Encoder.RPS)
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		encoder:  enc,
		resolver: resolve.New(store, enc, opts),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "err", err)
	}
}
