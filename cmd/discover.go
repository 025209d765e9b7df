package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalhouse/ingest-cli/internal/discovery"
	"github.com/signalhouse/ingest-cli/internal/sourcecfg"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run a discovery pipeline against the configured search providers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("discover"); err != nil {
			return err
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectKey, _ := cmd.Flags().GetString("project-key")
		item, _ := cmd.Flags().GetString("item")
		terms, _ := cmd.Flags().GetString("terms")
		site, _ := cmd.Flags().GetString("site")
		jobType, _ := cmd.Flags().GetString("job-type")
		shared, _ := cmd.Flags().GetBool("shared")
		smart, _ := cmd.Flags().GetBool("smart")
		writePool, _ := cmd.Flags().GetBool("write-pool")
		autoIngest, _ := cmd.Flags().GetBool("auto-ingest")
		ingestLimit, _ := cmd.Flags().GetInt("ingest-limit")

		if item == "" && terms == "" && site == "" {
			return eris.New("discover: --item, --terms or --site is required")
		}
		if item != "" && (terms != "" || site != "") {
			return eris.New("discover: --item is mutually exclusive with --terms and --site")
		}
		if ingestLimit <= 0 {
			ingestLimit = cfg.Discovery.DefaultIngestLimit
		}

		bctx, err := env.bindProject(ctx, projectKey)
		if err != nil {
			return err
		}

		var req discovery.Request
		if item != "" {
			res, err := sourcecfg.NewResolver(env.sources).ResolveItem(bctx, item)
			if err != nil {
				return err
			}
			req, err = discovery.RequestFromItem(res)
			if err != nil {
				return err
			}
		} else {
			req = discovery.Request{
				Query:   discovery.Query{Terms: terms, Site: site},
				JobType: jobType,
				Smart:   smart,
			}
		}
		req.Scope = scopeFromFlag(shared)
		req.WriteToPool = writePool
		req.AutoIngest = autoIngest
		req.IngestLimit = ingestLimit

		result, err := env.newPipeline().Run(bctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	discoverCmd.Flags().String("project-key", "", "project to bind (empty uses the default project)")
	discoverCmd.Flags().String("item", "", "run a configured source item; its channel supplies the provider, job type and query")
	discoverCmd.Flags().String("terms", "", "search terms")
	discoverCmd.Flags().String("site", "", "restrict discovery to one site")
	discoverCmd.Flags().String("job-type", "web_discovery", "job type recorded on the run and checked against capture config")
	discoverCmd.Flags().Bool("shared", false, "write survivors to the shared pool instead of the project pool")
	discoverCmd.Flags().Bool("smart", false, "prefer providers' expanded search where available")
	discoverCmd.Flags().Bool("write-pool", true, "append surviving candidates to the resource pool")
	discoverCmd.Flags().Bool("auto-ingest", false, "fetch and store surviving candidates")
	discoverCmd.Flags().Int("ingest-limit", 0, "max documents to ingest (0 uses the configured default)")

	rootCmd.AddCommand(discoverCmd)
}
