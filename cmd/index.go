package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mirrortrade/assistant/db"
	"github.com/mirrortrade/assistant/internal/embedding"
	"github.com/mirrortrade/assistant/internal/kb"
	"github.com/mirrortrade/assistant/internal/rag"
)

var indexCmd = &cobra.Command{
	Use:   "index [article-id]",
	Short: "Embed help-centre articles into the retrieval index",
	Long:  "With no argument, embeds every published article. With an article id, embeds just that article.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		index := rag.NewIndex(
			kb.NewStore(pool, logger),
			rag.NewStore(pool, logger),
			embedding.New(cfg.Embedder.Dimensions),
			logger,
		)

		if len(args) == 1 {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid article id %q: %w", args[0], err)
			}
			if err := index.IndexArticle(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed article %s\n", id)
			return nil
		}

		report, err := index.IndexAllPublished(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d of %d published articles (%d already covered, %d failed)\n",
			report.Indexed, report.Total, report.Skipped, report.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
