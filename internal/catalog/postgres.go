package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

//go:embed schema.sql
var schemaSQL string

// PostgresCatalog reads project jobs from the CMDR database and records
// contour runs beside them.
type PostgresCatalog struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresCatalog connects to dsn and ensures the lineage table.
func NewPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	c := &PostgresCatalog{pool: pool, logger: slog.With("component", "catalog")}
	c.logger.Info("connected to project catalog")
	return c, nil
}

// Resolve looks up the project for a WMX job ID.
func (c *PostgresCatalog) Resolve(ctx context.Context, jobID string) (ProjectJob, error) {
	id, err := util.Atoi(jobID)
	if err != nil {
		return ProjectJob{}, fmt.Errorf("invalid job id %q: %w", jobID, err)
	}

	query := `
		SELECT COALESCE(uid, ''), wmx_job_id, project_id, COALESCE(alias, ''),
		       COALESCE(alias_clean, ''), COALESCE(state, ''), COALESCE(year, 0),
		       COALESCE(parent_dir, ''), COALESCE(archive_dir, ''), COALESCE(project_dir, '')
		FROM project_job
		WHERE wmx_job_id = $1
	`

	var job ProjectJob
	err = c.pool.QueryRow(ctx, query, id).Scan(
		&job.UID, &job.WMXJobID, &job.ProjectID, &job.Alias,
		&job.AliasClean, &job.State, &job.Year,
		&job.ParentDir, &job.ArchiveDir, &job.ProjectDir,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProjectJob{}, fmt.Errorf("%w %s", ErrNoJob, jobID)
		}
		return ProjectJob{}, fmt.Errorf("resolve job %s: %w", jobID, err)
	}
	if job.AliasClean == "" {
		job.AliasClean = CleanAlias(job.Alias)
	}
	return job, nil
}

// RecordRun inserts the lineage row for a finished run.
func (c *PostgresCatalog) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO contour_runs (
			run_id, wmx_job_id, project_id, started_at, finished_at, passes,
			units_done, units_failed, dropped_units, output_path, checksum, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO NOTHING
	`

	var errMsg *string
	if rec.Err != "" {
		errMsg = &rec.Err
	}

	_, err := c.pool.Exec(ctx, query,
		rec.RunID,
		rec.WMXJobID,
		rec.ProjectID,
		rec.StartedAt,
		rec.FinishedAt,
		rec.Passes,
		rec.UnitsDone,
		rec.UnitsFailed,
		rec.Dropped,
		rec.Output,
		rec.Checksum,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	c.logger.Info("recorded contour run", "run_id", rec.RunID, "project", rec.ProjectID)
	return nil
}

// Close releases database connections.
func (c *PostgresCatalog) Close() error {
	c.pool.Close()
	return nil
}
