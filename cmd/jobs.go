package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalhouse/ingest-cli/internal/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and repair ingestion job runs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job runs for a project",
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
		status, _ := cmd.Flags().GetString("status")
		jobType, _ := cmd.Flags().GetString("job-type")
		limit, _ := cmd.Flags().GetInt("limit")

		bctx, err := env.bindProject(ctx, projectKey)
		if err != nil {
			return err
		}

		runs, err := env.jobs.List(bctx, jobs.Filter{
			Status:  jobs.Status(status),
			JobType: jobType,
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No job runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSTARTED\tFINISHED\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.JobType, r.Status,
				fmtTime(r.StartedAt), fmtTime(r.FinishedAt), truncate(r.Error, 60))
		}
		return w.Flush()
	},
}

var jobsRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Mark stale running jobs as failed",
	Long:  "Finds jobs stuck in running state, either one by id or all older than a cutoff, and transitions them to failed with a repair note. Repairing an already repaired set matches nothing and exits 0.",
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
		taskID, _ := cmd.Flags().GetString("task-id")
		olderThanMin, _ := cmd.Flags().GetInt("older-than-minutes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		bctx, err := env.bindProject(ctx, projectKey)
		if err != nil {
			return err
		}

		if taskID != "" {
			return repairOne(bctx, env, taskID, dryRun)
		}

		if olderThanMin <= 0 {
			olderThanMin = cfg.Reaper.OlderThanMinutes
		}
		olderThan := time.Duration(olderThanMin) * time.Minute

		stale, err := env.jobs.FindStale(bctx, olderThan)
		if err != nil {
			return eris.Wrap(err, "jobs repair: find stale")
		}
		if len(stale) == 0 {
			fmt.Println("no stale jobs found")
			return nil
		}

		if dryRun {
			fmt.Printf("would repair %d stale job(s):\n", len(stale))
			for _, r := range stale {
				fmt.Printf("  %s  %s  started %s\n", r.ID, r.JobType, fmtTime(r.StartedAt))
			}
			return nil
		}

		reason := fmt.Sprintf("repaired by reaper: running longer than %s", olderThan)
		n, err := env.jobs.RepairStale(bctx, olderThan, reason)
		if err != nil {
			return eris.Wrap(err, "jobs repair")
		}
		fmt.Printf("repaired %d job(s)\n", n)
		return nil
	},
}

func repairOne(ctx context.Context, env *env, id string, dryRun bool) error {
	run, err := env.jobs.Get(ctx, id)
	if err != nil {
		return eris.Wrap(err, "jobs repair: get")
	}
	if run == nil {
		return eris.Errorf("jobs repair: no run with id %s", id)
	}
	if run.Status != jobs.StatusRunning {
		fmt.Printf("run %s is %s, nothing to repair\n", id, run.Status)
		return nil
	}
	if dryRun {
		fmt.Printf("would repair run %s (%s, started %s)\n", id, run.JobType, fmtTime(run.StartedAt))
		return nil
	}
	n, err := env.jobs.Repair(ctx, []string{id}, "repaired by administrator")
	if err != nil {
		return eris.Wrap(err, "jobs repair")
	}
	fmt.Printf("repaired %d job(s)\n", n)
	return nil
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func init() {
	jobsListCmd.Flags().String("project-key", "", "project to bind")
	jobsListCmd.Flags().String("status", "", "filter by status (queued, running, finished, failed)")
	jobsListCmd.Flags().String("job-type", "", "filter by job type")
	jobsListCmd.Flags().Int("limit", 50, "max runs to display")

	jobsRepairCmd.Flags().String("project-key", "", "project to bind")
	jobsRepairCmd.Flags().String("task-id", "", "repair one specific run")
	jobsRepairCmd.Flags().Int("older-than-minutes", 0, "repair running jobs started before this cutoff (0 uses the configured default)")
	jobsRepairCmd.Flags().Bool("dry-run", false, "show what would be repaired without mutating")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRepairCmd)
	rootCmd.AddCommand(jobsCmd)
}
