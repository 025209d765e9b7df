package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/db"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

// Tracker records job runs in the bound project's partition.
type Tracker struct {
	pool db.Pool
}

// NewTracker creates a Tracker backed by the given pool.
func NewTracker(pool db.Pool) *Tracker {
	return &Tracker{pool: pool}
}

const runColumns = `id, job_type, params, status, started_at, finished_at, error, created_at`

func (t *Tracker) table(ctx context.Context) (string, error) {
	schema, err := tenant.PartitionFromContext(ctx)
	if err != nil {
		return "", err
	}
	return pgx.Identifier{schema}.Sanitize() + ".etl_job_runs", nil
}

// Create inserts a new run in status queued and returns it.
func (t *Tracker) Create(ctx context.Context, jobType string, params map[string]any) (*Run, error) {
	if jobType == "" {
		return nil, eris.New("jobs: job type is required")
	}
	if len(jobType) > MaxJobTypeLen {
		jobType = jobType[:MaxJobTypeLen]
	}

	table, err := t.table(ctx)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: marshal params")
	}

	run := &Run{
		ID:        uuid.New().String(),
		JobType:   jobType,
		Params:    params,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	_, err = t.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, job_type, params, status, created_at) VALUES ($1, $2, $3, $4, $5)`, table),
		run.ID, run.JobType, paramsJSON, string(run.Status), run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: create run")
	}
	return run, nil
}

// MarkRunning transitions a run to running and stamps started_at.
func (t *Tracker) MarkRunning(ctx context.Context, id string) error {
	table, err := t.table(ctx)
	if err != nil {
		return err
	}

	tag, err := t.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $2, started_at = now() WHERE id = $1`, table),
		id, string(StatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "jobs: mark running %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("jobs: run not found: %s", id)
	}
	return nil
}

// MarkFinished transitions a run to its terminal success state. A run that
// was never marked running is still accepted; nothing stays stuck in queued
// because of the tracker itself.
func (t *Tracker) MarkFinished(ctx context.Context, id string) error {
	table, err := t.table(ctx)
	if err != nil {
		return err
	}

	tag, err := t.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $2, finished_at = now() WHERE id = $1`, table),
		id, string(StatusFinished),
	)
	if err != nil {
		return eris.Wrapf(err, "jobs: mark finished %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("jobs: run not found: %s", id)
	}
	return nil
}

// MarkFailed transitions a run to failed, appending errMsg to the run's
// error history (newline-joined) rather than overwriting it, and stamping
// finished_at if it is still unset.
func (t *Tracker) MarkFailed(ctx context.Context, id string, errMsg string) error {
	table, err := t.table(ctx)
	if err != nil {
		return err
	}

	tag, err := t.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET
			status = $2,
			error = CASE WHEN error = '' THEN $3 ELSE error || E'\n' || $3 END,
			finished_at = COALESCE(finished_at, now())
		 WHERE id = $1`, table),
		id, string(StatusFailed), errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "jobs: mark failed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("jobs: run not found: %s", id)
	}
	return nil
}

// Get returns a single run by id.
func (t *Tracker) Get(ctx context.Context, id string) (*Run, error) {
	table, err := t.table(ctx)
	if err != nil {
		return nil, err
	}

	row := t.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, table), id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "jobs: get run %s", id)
	}
	return run, nil
}

// List returns runs matching the filter, newest first.
func (t *Tracker) List(ctx context.Context, filter Filter) ([]Run, error) {
	table, err := t.table(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE true`, runColumns, table)
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.JobType != "" {
		query += fmt.Sprintf(` AND job_type = $%d`, argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := t.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "jobs: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// FindStale returns runs stuck in running whose started_at is older than the
// cutoff. These are workers that crashed or were killed without reporting.
func (t *Tracker) FindStale(ctx context.Context, olderThan time.Duration) ([]Run, error) {
	table, err := t.table(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := t.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s
			 WHERE status = $1 AND started_at < now() - make_interval(secs => $2)
			 ORDER BY started_at`, runColumns, table),
		string(StatusRunning), olderThan.Seconds(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: find stale")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "jobs: scan stale run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Repair transitions stale running jobs to failed, appending the supplied
// reason to each job's error history, and returns the number repaired. The
// status predicate excludes already-failed rows, so re-running the reaper
// matches zero candidates.
func (t *Tracker) Repair(ctx context.Context, ids []string, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	table, err := t.table(ctx)
	if err != nil {
		return 0, err
	}

	placeholders := make([]string, len(ids))
	args := []any{string(StatusFailed), reason, string(StatusRunning)}
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+4)
		args = append(args, id)
	}

	tag, err := t.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET
			status = $1,
			error = CASE WHEN error = '' THEN $2 ELSE error || E'\n' || $2 END,
			finished_at = COALESCE(finished_at, now())
		 WHERE status = $3 AND id IN (%s)`, table, strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		return 0, eris.Wrap(err, "jobs: repair")
	}
	return int(tag.RowsAffected()), nil
}

// RepairStale finds and repairs every stale run in one pass, returning the
// count repaired.
func (t *Tracker) RepairStale(ctx context.Context, olderThan time.Duration, reason string) (int, error) {
	stale, err := t.FindStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(stale))
	for i, r := range stale {
		ids[i] = r.ID
	}
	return t.Repair(ctx, ids, reason)
}

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	var paramsJSON []byte
	var status string
	if err := row.Scan(&r.ID, &r.JobType, &paramsJSON, &status,
		&r.StartedAt, &r.FinishedAt, &r.Error, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return nil, eris.Wrap(err, "jobs: unmarshal params")
		}
	}
	return &r, nil
}
