package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete stored documents matching a URL pattern",
	Long: `Delete documents from a project's store whose URL matches the given SQL
LIKE pattern. Previews the count by default; pass --apply to actually delete.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectKey, _ := cmd.Flags().GetString("project-key")
		pattern, _ := cmd.Flags().GetString("pattern")
		apply, _ := cmd.Flags().GetBool("apply")

		if pattern == "" {
			return eris.New("purge: --pattern is required")
		}

		bctx, err := env.bindProject(ctx, projectKey)
		if err != nil {
			return err
		}

		count, err := env.docs.CountMatching(bctx, pattern)
		if err != nil {
			return eris.Wrap(err, "purge")
		}
		if count == 0 {
			fmt.Println("no documents match, nothing to purge")
			return nil
		}
		if !apply {
			fmt.Printf("would purge %d documents matching %q (pass --apply to delete)\n",
				count, pattern)
			return nil
		}

		deleted, err := env.docs.DeleteMatching(bctx, pattern)
		if err != nil {
			return eris.Wrap(err, "purge")
		}
		zap.L().Info("purged documents",
			zap.String("project", projectKey),
			zap.String("pattern", pattern),
			zap.Int64("deleted", deleted))
		fmt.Printf("purged %d documents\n", deleted)
		return nil
	},
}

func init() {
	purgeCmd.Flags().String("project-key", "", "project to bind")
	purgeCmd.Flags().String("pattern", "", "SQL LIKE pattern to match document URLs")
	purgeCmd.Flags().Bool("apply", false, "actually delete instead of previewing")
	rootCmd.AddCommand(purgeCmd)
}
