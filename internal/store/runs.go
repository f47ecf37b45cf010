package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"krader/internal/model"
)

// StartRun inserts a RUNNING bot run row.
func (s *Store) StartRun(ctx context.Context, run *model.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_runs (run_id, started_at, status) VALUES (?, ?, ?)
	`, run.RunID, run.StartedAt.UnixMilli(), string(run.Status))
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.RunID, err)
	}
	return nil
}

// EndRun records the terminal status of a run.
func (s *Store) EndRun(ctx context.Context, runID string, status model.RunStatus, errorMessage string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bot_runs SET ended_at = ?, status = ?, error_message = ? WHERE run_id = ?
	`, endedAt.UnixMilli(), string(status), errorMessage, runID)
	if err != nil {
		return fmt.Errorf("end run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// MarkUnfinishedRunsCrashed flags every still-RUNNING run as CRASHED and
// returns how many were updated. Called once during startup recovery.
func (s *Store) MarkUnfinishedRunsCrashed(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bot_runs SET status = ?, ended_at = ?, error_message = 'process exited without ending run'
		WHERE status = ?
	`, string(model.RunCrashed), now.UnixMilli(), string(model.RunRunning))
	if err != nil {
		return 0, fmt.Errorf("mark crashed runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LastRun returns the most recently started run, or ErrNotFound.
func (s *Store) LastRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, ended_at, status, error_message
		FROM bot_runs ORDER BY started_at DESC LIMIT 1
	`)
	var run model.Run
	var status string
	var startedMs int64
	var endedMs sql.NullInt64
	var errMsg sql.NullString
	err := row.Scan(&run.RunID, &startedMs, &endedMs, &status, &errMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = msToTime(startedMs)
	if endedMs.Valid {
		run.EndedAt = msToTime(endedMs.Int64)
	}
	run.Status = model.RunStatus(status)
	run.ErrorMessage = errMsg.String
	return &run, nil
}

// LogError persists an error occurrence attributed to a run.
func (s *Store) LogError(ctx context.Context, rec *model.ErrorRecord) error {
	var contextJSON []byte
	if len(rec.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("marshal error context: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO errors (run_id, error_type, message, context, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.RunID, rec.ErrorType, rec.Message, nullString(contextJSON), rec.OccurredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	return nil
}

// RecentErrors returns errors that occurred at or after since, newest first.
func (s *Store) RecentErrors(ctx context.Context, since time.Time) ([]model.ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, error_type, message, context, occurred_at
		FROM errors WHERE occurred_at >= ? ORDER BY occurred_at DESC
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	var records []model.ErrorRecord
	for rows.Next() {
		var rec model.ErrorRecord
		var runID, contextJSON sql.NullString
		var occurredMs int64
		if err := rows.Scan(&rec.ID, &runID, &rec.ErrorType, &rec.Message, &contextJSON, &occurredMs); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		rec.RunID = runID.String
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &rec.Context); err != nil {
				return nil, fmt.Errorf("unmarshal error context: %w", err)
			}
		}
		rec.OccurredAt = msToTime(occurredMs)
		records = append(records, rec)
	}
	return records, rows.Err()
}
