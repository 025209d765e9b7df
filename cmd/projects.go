package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalhouse/ingest-cli/internal/pool"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage tenant projects and their partitions",
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <key>",
	Short: "Create a project and its data partition",
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

		schema, _ := cmd.Flags().GetString("schema")
		p, err := env.projects.Create(ctx, args[0], schema)
		if err != nil {
			return eris.Wrap(err, "projects create")
		}

		if def, _ := cmd.Flags().GetBool("default"); def {
			if err := env.projects.SetDefault(ctx, p.Key); err != nil {
				return eris.Wrap(err, "projects create: set default")
			}
		}

		fmt.Printf("created project %s (partition %s)\n", p.Key, p.SchemaName)
		return nil
	},
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
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

		projects, err := env.projects.List(ctx)
		if err != nil {
			return eris.Wrap(err, "projects list")
		}
		if len(projects) == 0 {
			fmt.Fprintln(os.Stderr, "No projects found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tPARTITION\tENABLED\tDEFAULT\tCREATED")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
				p.Key, p.SchemaName, p.Enabled, p.IsDefault,
				p.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var projectsSetDefaultCmd = &cobra.Command{
	Use:   "set-default <key>",
	Short: "Make a project the process-wide default tenant",
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

		if err := env.projects.SetDefault(ctx, args[0]); err != nil {
			return eris.Wrap(err, "projects set-default")
		}
		fmt.Printf("%s is now the default project\n", args[0])
		return nil
	},
}

var projectsEnableCmd = &cobra.Command{
	Use:   "enable <key>",
	Short: "Enable a project",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setProjectEnabled(cmd, args[0], true) },
}

var projectsDisableCmd = &cobra.Command{
	Use:   "disable <key>",
	Short: "Disable a project without deleting its data",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setProjectEnabled(cmd, args[0], false) },
}

func setProjectEnabled(cmd *cobra.Command, key string, enabled bool) error {
	ctx := cmd.Context()
	if err := cfg.Validate("admin"); err != nil {
		return err
	}
	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.projects.SetEnabled(ctx, key, enabled); err != nil {
		return eris.Wrap(err, "projects enable/disable")
	}
	fmt.Printf("project %s enabled=%t\n", key, enabled)
	return nil
}

var projectsCaptureCmd = &cobra.Command{
	Use:   "capture <key>",
	Short: "Configure automatic resource pool capture for a project",
	Long:  "Sets whether discovery runs may append into the project's resource pool, and for which job types. Use key \"-\" for the default-scope config applied to projects without their own row.",
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

		key := args[0]
		if key == "-" {
			key = pool.DefaultScopeKey
		}
		enabled, _ := cmd.Flags().GetBool("enabled")
		jobTypes, _ := cmd.Flags().GetStringSlice("job-types")

		if err := env.capture.Set(ctx, pool.CaptureConfig{
			ProjectKey: key,
			Enabled:    enabled,
			JobTypes:   jobTypes,
		}); err != nil {
			return eris.Wrap(err, "projects capture")
		}
		fmt.Printf("capture config saved (enabled=%t, job types %v)\n", enabled, jobTypes)
		return nil
	},
}

func init() {
	projectsCreateCmd.Flags().String("schema", "", "partition identifier (defaults to proj_<key>)")
	projectsCreateCmd.Flags().Bool("default", false, "make this the default project")

	projectsCaptureCmd.Flags().Bool("enabled", true, "master capture switch")
	projectsCaptureCmd.Flags().StringSlice("job-types", nil, "job types allowed to append")

	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsSetDefaultCmd)
	projectsCmd.AddCommand(projectsEnableCmd)
	projectsCmd.AddCommand(projectsDisableCmd)
	projectsCmd.AddCommand(projectsCaptureCmd)
	rootCmd.AddCommand(projectsCmd)
}
