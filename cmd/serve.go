package cmd

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mirrortrade/assistant/db"
	"github.com/mirrortrade/assistant/internal/api"
	"github.com/mirrortrade/assistant/internal/chat"
	"github.com/mirrortrade/assistant/internal/embedding"
	"github.com/mirrortrade/assistant/internal/guardrail"
	"github.com/mirrortrade/assistant/internal/kb"
	"github.com/mirrortrade/assistant/internal/rag"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		if err := db.Migrate(cfg.Postgres.ConnectionString(), logger); err != nil {
			return err
		}

		pool, err := openPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		embedder := embedding.New(cfg.Embedder.Dimensions)
		articles := kb.NewStore(pool, logger)
		index := rag.NewIndex(articles, rag.NewStore(pool, logger), embedder, logger)
		assistant := chat.NewAssistant(
			chat.NewStore(pool, logger),
			index,
			guardrail.NewEngine(),
			nil,
			logger,
			chat.WithSearchOptions(
				rag.WithTopK(cfg.Retrieval.TopK),
				rag.WithMinScore(cfg.Retrieval.MinScore),
			),
		)

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		server := api.NewServer(cfg.Server, assistant, index, pool, reg, logger)
		return server.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
