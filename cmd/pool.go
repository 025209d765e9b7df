package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/urlnorm"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect and curate the resource pool",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's effective pool (shared entries merged in)",
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
		entryType, _ := cmd.Flags().GetString("type")
		domain, _ := cmd.Flags().GetString("domain")
		tag, _ := cmd.Flags().GetString("tag")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		bctx, err := env.bindProject(ctx, projectKey)
		if err != nil {
			return err
		}

		entries, err := env.pool.ListEffective(bctx,
			pool.Filter{EntryType: entryType, Domain: domain, Tag: tag},
			pool.Page{Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "pool list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No pool entries found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "URL\tTYPE\tSOURCE\tENABLED\tTAGS")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
				e.URL, e.EntryType, e.Source, e.Enabled, strings.Join(e.Tags, ","))
		}
		return w.Flush()
	},
}

var poolAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add or update a manually curated pool entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		shared, _ := cmd.Flags().GetBool("shared")
		entryType, _ := cmd.Flags().GetString("type")
		displayName, _ := cmd.Flags().GetString("name")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		canon, err := urlnorm.Canonical(args[0])
		if err != nil {
			return eris.Wrap(err, "pool add")
		}

		bctx := ctx
		if !shared {
			if bctx, err = env.bindProject(ctx, projectKey); err != nil {
				return err
			}
		}

		err = env.pool.UpsertManual(bctx, scopeFromFlag(shared), pool.Entry{
			URL:         canon,
			Domain:      urlnorm.Domain(canon),
			EntryType:   entryType,
			DisplayName: displayName,
			Source:      pool.SourceManual,
			Tags:        tags,
			Enabled:     true,
		})
		if err != nil {
			return eris.Wrap(err, "pool add")
		}
		fmt.Printf("added %s\n", canon)
		return nil
	},
}

var poolDisableCmd = &cobra.Command{
	Use:   "disable <url>",
	Short: "Disable a pool entry without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPoolEnabled(cmd, args[0], false) },
}

var poolEnableCmd = &cobra.Command{
	Use:   "enable <url>",
	Short: "Re-enable a disabled pool entry",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPoolEnabled(cmd, args[0], true) },
}

func setPoolEnabled(cmd *cobra.Command, rawURL string, enabled bool) error {
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
	shared, _ := cmd.Flags().GetBool("shared")

	canon, err := urlnorm.Canonical(rawURL)
	if err != nil {
		return eris.Wrap(err, "pool enable/disable")
	}

	bctx := ctx
	if !shared {
		if bctx, err = env.bindProject(ctx, projectKey); err != nil {
			return err
		}
	}

	if err := env.pool.SetEnabled(bctx, scopeFromFlag(shared), canon, enabled); err != nil {
		return eris.Wrap(err, "pool enable/disable")
	}
	fmt.Printf("%s enabled=%t\n", canon, enabled)
	return nil
}

var poolPromoteCmd = &cobra.Command{
	Use:   "promote <url>",
	Short: "Copy a project pool entry into the shared pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		canon, err := urlnorm.Canonical(args[0])
		if err != nil {
			return eris.Wrap(err, "pool promote")
		}

		bctx, err := env.bindProject(ctx, projectKey)
		if err != nil {
			return err
		}

		entries, err := env.pool.ListEffective(bctx,
			pool.Filter{Domain: urlnorm.Domain(canon)}, pool.Page{Limit: 500})
		if err != nil {
			return eris.Wrap(err, "pool promote")
		}
		for _, e := range entries {
			if e.URL != canon {
				continue
			}
			if err := env.pool.UpsertManual(bctx, pool.ScopeShared, e); err != nil {
				return eris.Wrap(err, "pool promote")
			}
			fmt.Printf("promoted %s to the shared pool\n", canon)
			return nil
		}
		return eris.Errorf("pool promote: %s not found in project pool", canon)
	},
}

func init() {
	for _, c := range []*cobra.Command{poolListCmd, poolAddCmd, poolEnableCmd, poolDisableCmd, poolPromoteCmd} {
		c.Flags().String("project-key", "", "project to bind")
	}
	for _, c := range []*cobra.Command{poolAddCmd, poolEnableCmd, poolDisableCmd} {
		c.Flags().Bool("shared", false, "operate on the shared pool")
	}

	poolListCmd.Flags().String("type", "", "filter by entry type (site, rss, sitemap)")
	poolListCmd.Flags().String("domain", "", "filter by domain")
	poolListCmd.Flags().String("tag", "", "filter by tag")
	poolListCmd.Flags().Int("limit", 100, "max entries to display")
	poolListCmd.Flags().Int("offset", 0, "pagination offset")

	poolAddCmd.Flags().String("type", pool.EntryTypeSite, "entry type (site, rss, sitemap)")
	poolAddCmd.Flags().String("name", "", "display name")
	poolAddCmd.Flags().StringSlice("tags", nil, "free-form tags")

	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolAddCmd)
	poolCmd.AddCommand(poolEnableCmd)
	poolCmd.AddCommand(poolDisableCmd)
	poolCmd.AddCommand(poolPromoteCmd)
	rootCmd.AddCommand(poolCmd)
}
