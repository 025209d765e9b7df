package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/sourcecfg"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage channel and source item configuration",
}

func sourcesScope(cmd *cobra.Command, env *env) (context.Context, pool.Scope, error) {
	shared, _ := cmd.Flags().GetBool("shared")
	projectKey, _ := cmd.Flags().GetString("project-key")
	ctx := cmd.Context()
	if shared {
		return ctx, pool.ScopeShared, nil
	}
	bctx, err := env.bindProject(ctx, projectKey)
	if err != nil {
		return nil, "", err
	}
	return bctx, pool.ScopeTenant, nil
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List channels and source items in a scope",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, scope, err := sourcesScope(cmd, env)
		if err != nil {
			return err
		}

		channels, err := env.sources.ListChannels(ctx, scope)
		if err != nil {
			return eris.Wrap(err, "sources list")
		}
		items, err := env.sources.ListItems(ctx, scope)
		if err != nil {
			return eris.Wrap(err, "sources list")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tKEY\tNAME\tEXTENDS\tENABLED")
		for _, ch := range channels {
			fmt.Fprintf(w, "channel\t%s\t%s\t%s\t%t\n", ch.Key, ch.DisplayName, ch.Extends, ch.Enabled)
		}
		for _, it := range items {
			fmt.Fprintf(w, "item\t%s\t%s\t%s\t%t\n", it.Key, it.DisplayName, it.Extends, it.Enabled)
		}
		return w.Flush()
	},
}

var sourcesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a scope's channels and source items as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, scope, err := sourcesScope(cmd, env)
		if err != nil {
			return err
		}

		out := os.Stdout
		if file, _ := cmd.Flags().GetString("file"); file != "" {
			f, err := os.Create(file)
			if err != nil {
				return eris.Wrap(err, "sources export")
			}
			defer f.Close()
			out = f
		}
		if err := env.sources.Export(ctx, scope, out); err != nil {
			return eris.Wrap(err, "sources export")
		}
		return nil
	},
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import channels and source items from a YAML bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, scope, err := sourcesScope(cmd, env)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "sources import")
		}
		defer f.Close()

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			b, err := sourcecfg.DecodeBundle(f)
			if err != nil {
				return eris.Wrap(err, "sources import")
			}
			for _, ch := range b.Channels {
				fmt.Printf("would upsert channel %s\n", ch.Key)
			}
			for _, it := range b.Items {
				fmt.Printf("would upsert item %s\n", it.Key)
			}
			fmt.Printf("dry run: %d configs, nothing written\n", len(b.Channels)+len(b.Items))
			return nil
		}

		n, err := env.sources.Import(ctx, scope, f)
		if err != nil {
			return eris.Wrap(err, "sources import")
		}
		fmt.Printf("imported %d configs\n", n)
		return nil
	},
}

var sourcesResolveCmd = &cobra.Command{
	Use:   "resolve <item-key>",
	Short: "Show the fully resolved config for a source item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		projectKey, _ := cmd.Flags().GetString("project-key")
		ctx := cmd.Context()
		if projectKey != "" {
			if ctx, err = env.bindProject(ctx, projectKey); err != nil {
				return err
			}
		}

		resolver := sourcecfg.NewResolver(env.sources)
		resolved, err := resolver.ResolveItem(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sources resolve")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "item\t%s\n", resolved.Key)
		fmt.Fprintf(w, "channel\t%s (%s)\n", resolved.Channel.Key, resolved.Channel.Provider)
		for k, v := range resolved.EffectiveParams {
			fmt.Fprintf(w, "param %s\t%v\n", k, v)
		}
		return w.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{sourcesListCmd, sourcesExportCmd, sourcesImportCmd} {
		c.Flags().Bool("shared", false, "operate on the shared scope")
		c.Flags().String("project-key", "", "project to bind")
	}
	sourcesResolveCmd.Flags().String("project-key", "", "project to bind")
	sourcesExportCmd.Flags().String("file", "", "write to file instead of stdout")
	sourcesImportCmd.Flags().Bool("dry-run", false, "print the plan without writing")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesExportCmd)
	sourcesCmd.AddCommand(sourcesImportCmd)
	sourcesCmd.AddCommand(sourcesResolveCmd)
	rootCmd.AddCommand(sourcesCmd)
}
