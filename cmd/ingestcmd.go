package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalhouse/ingest-cli/internal/pool"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [url ...]",
	Short: "Fetch URLs and store their content as documents",
	Long: `Fetch the given URLs (or, with --from-pool, the project's enabled pool
entries) through the reader and store the extracted content in the project's
document store. URLs already stored are skipped unless --force is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectKey, _ := cmd.Flags().GetString("project-key")
		fromPool, _ := cmd.Flags().GetBool("from-pool")
		force, _ := cmd.Flags().GetBool("force")
		restart, _ := cmd.Flags().GetBool("restart")
		limit, _ := cmd.Flags().GetInt("limit")

		bctx, err := env.bindProject(ctx, projectKey)
		if err != nil {
			return err
		}

		urls := args
		offset, scanned := 0, 0
		if fromPool {
			if len(args) > 0 {
				return eris.New("ingest: --from-pool takes no URL arguments")
			}
			if !restart {
				offset, err = poolIngestOffset(bctx, env)
				if err != nil {
					return err
				}
			}
			entries, err := env.pool.ListEffective(bctx, pool.Filter{},
				pool.Page{Limit: limit, Offset: offset})
			if err != nil {
				return eris.Wrap(err, "ingest")
			}
			scanned = len(entries)
			for _, e := range entries {
				if e.Enabled {
					urls = append(urls, e.URL)
				}
			}
		}
		if len(urls) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to ingest.")
			return nil
		}
		if limit > 0 && len(urls) > limit {
			urls = urls[:limit]
		}

		logger := zap.L().With(zap.String("phase", "ingest"))
		logger.Info("starting ingest",
			zap.Int("urls", len(urls)),
			zap.Bool("force", force))

		summary, err := env.newIngestor(force).Ingest(bctx, urls)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		if fromPool {
			next := strconv.Itoa(offset + scanned)
			if err := env.cursors.Set(bctx, poolIngestCursor, next); err != nil {
				return eris.Wrap(err, "ingest: advance cursor")
			}
		}

		fmt.Printf("attempted %d, succeeded %d, failed %d\n",
			summary.Attempted, summary.Succeeded, len(summary.Failures))
		for _, f := range summary.Failures {
			fmt.Fprintf(os.Stderr, "  failed: %s\n", f)
		}
		return nil
	},
}

// poolIngestCursor tracks how far through the effective pool incremental
// ingestion has progressed.
const poolIngestCursor = "pool_ingest"

func poolIngestOffset(ctx context.Context, env *env) (int, error) {
	c, err := env.cursors.Get(ctx, poolIngestCursor)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: read cursor")
	}
	if c == nil {
		return 0, nil
	}
	offset, err := strconv.Atoi(c.Value)
	if err != nil || offset < 0 {
		return 0, nil
	}
	return offset, nil
}

func init() {
	ingestCmd.Flags().String("project-key", "", "project to bind")
	ingestCmd.Flags().Bool("from-pool", false, "ingest the project's enabled pool entries, resuming from the sync cursor")
	ingestCmd.Flags().Bool("force", false, "refetch URLs even when already stored")
	ingestCmd.Flags().Bool("restart", false, "ignore the sync cursor and start from the beginning of the pool")
	ingestCmd.Flags().Int("limit", 100, "max URLs to ingest")
	rootCmd.AddCommand(ingestCmd)
}
