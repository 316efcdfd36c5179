// Package cmd wires the assistant's command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/spf13/cobra"

	"github.com/mirrortrade/assistant/internal/config"
	"github.com/mirrortrade/assistant/internal/log"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "assistant",
	Short:         "Guarded retrieval-backed support assistant",
	Long:          "Runs the support assistant: a guarded, retrieval-backed chat service over the help-centre knowledge base.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "directory containing config.yaml")
}

// setup loads configuration and builds the root logger.
func setup() (*config.Config, log.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logger := log.New(log.Config{
		Level:     level,
		JSON:      cfg.Log.JSON,
		AddSource: cfg.Log.AddSource,
	})
	return cfg, logger, nil
}

// openPool connects to postgres with the configured pool size.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxConns)
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
