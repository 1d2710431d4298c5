// ABOUTME: Run rows track one importer invocation from start to finish.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run describes one importer invocation.
type Run struct {
	ID         string
	InputDir   string
	Endpoint   string
	Host       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Processed  int
	Failed     int
	Skipped    int
}

// BeginRun inserts a new run row.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if s == nil || s.DB == nil {
		return errors.New("ledger store is nil")
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.InputDir == "" {
		return errors.New("run input_dir is required")
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO runs (
		id, input_dir, endpoint, host, started_at, processed, failed, skipped
	) VALUES (?, ?, ?, ?, ?, 0, 0, 0)`,
		run.ID,
		run.InputDir,
		run.Endpoint,
		run.Host,
		formatTime(startedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stamps the run as finished and stores its final counters.
func (s *Store) FinishRun(ctx context.Context, id string, processed, failed, skipped int) error {
	if s == nil || s.DB == nil {
		return errors.New("ledger store is nil")
	}
	if id == "" {
		return errors.New("run id is required")
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE runs
		SET finished_at = ?, processed = ?, failed = ?, skipped = ?
		WHERE id = ?`,
		formatTime(time.Now()),
		processed,
		failed,
		skipped,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	if s == nil || s.DB == nil {
		return Run{}, errors.New("ledger store is nil")
	}
	row := s.DB.QueryRowContext(ctx, `SELECT id, input_dir, endpoint, host, started_at, finished_at, processed, failed, skipped
		FROM runs WHERE id = ?`, id)
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(&run.ID, &run.InputDir, &run.Endpoint, &run.Host, &startedAt, &finishedAt, &run.Processed, &run.Failed, &run.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("load run %s: %w", id, err)
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return Run{}, err
		}
		run.FinishedAt = &t
	}
	return run, nil
}
