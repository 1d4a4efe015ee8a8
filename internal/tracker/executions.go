package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-discover/internal/domain"
)

const executionColumns = `evaluation_id, agent_name, status, result, error, execution_time_ms, job_id,
	degraded, created_at, updated_at, completed_at`

// Apply upserts an execution row. The update takes effect only when its
// status outranks the stored one; applied reports whether it did. Result,
// job id and degraded survive updates that do not carry them.
func (s *Store) Apply(ctx context.Context, u domain.AgentUpdate) (bool, error) {
	if !u.Status.Valid() {
		return false, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", u.Status))
	}
	at := u.At
	if at.IsZero() {
		at = s.now()
	}
	var completedAt *time.Time
	if u.Status.IsTerminal() {
		completedAt = &at
	}
	var result sql.NullString
	if len(u.Result) > 0 {
		result = sql.NullString{String: string(u.Result), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_executions (evaluation_id, agent_name, status, status_rank, result, error,
			execution_time_ms, job_id, degraded, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (evaluation_id, agent_name) DO UPDATE SET
			status            = excluded.status,
			status_rank       = excluded.status_rank,
			result            = COALESCE(excluded.result, agent_executions.result),
			error             = excluded.error,
			execution_time_ms = CASE WHEN excluded.execution_time_ms > 0
				THEN excluded.execution_time_ms ELSE agent_executions.execution_time_ms END,
			job_id            = CASE WHEN excluded.job_id <> ''
				THEN excluded.job_id ELSE agent_executions.job_id END,
			degraded          = MAX(agent_executions.degraded, excluded.degraded),
			updated_at        = excluded.updated_at,
			completed_at      = excluded.completed_at
		WHERE excluded.status_rank > agent_executions.status_rank`,
		u.EvaluationID, u.AgentName, string(u.Status), u.Status.Rank(), result, u.Error,
		u.ExecutionTime.Milliseconds(), u.JobID, boolInt(u.Degraded),
		formatTime(at), formatTime(at), formatTimePtr(completedAt))
	if err != nil {
		return false, fmt.Errorf("apply %s/%s -> %s: %w", u.EvaluationID, u.AgentName, u.Status, err)
	}
	return affected(res)
}

// SetJobID records the bridge job handle on a row without changing status.
func (s *Store) SetJobID(ctx context.Context, evaluationID, agent, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_executions SET job_id = ?, updated_at = ?
		WHERE evaluation_id = ? AND agent_name = ?`,
		jobID, formatTime(s.now()), evaluationID, agent)
	if err != nil {
		return fmt.Errorf("set job id on %s/%s: %w", evaluationID, agent, err)
	}
	return nil
}

// Reset removes a failed or skipped row so the agent can be dispatched
// again. It reports false when the row is absent or in another state.
func (s *Store) Reset(ctx context.Context, evaluationID, agent string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM agent_executions
		WHERE evaluation_id = ? AND agent_name = ? AND status IN ('failed', 'skipped')`,
		evaluationID, agent)
	if err != nil {
		return false, fmt.Errorf("reset %s/%s: %w", evaluationID, agent, err)
	}
	return affected(res)
}

// GetExecution loads one row or returns domain.ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, evaluationID, agent string) (*domain.AgentExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM agent_executions
		WHERE evaluation_id = ? AND agent_name = ?`, evaluationID, agent)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s/%s: %w", evaluationID, agent, domain.ErrNotFound)
	}
	return e, err
}

// ListExecutions returns every row of an evaluation ordered by agent name.
func (s *Store) ListExecutions(ctx context.Context, evaluationID string) ([]domain.AgentExecution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM agent_executions
		WHERE evaluation_id = ? ORDER BY agent_name`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list executions of %s: %w", evaluationID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.AgentExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

func scanExecution(row scanner) (*domain.AgentExecution, error) {
	var (
		e                    domain.AgentExecution
		status               string
		result               sql.NullString
		execMs               int64
		degraded             int
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	err := row.Scan(&e.EvaluationID, &e.AgentName, &status, &result, &e.Error, &execMs, &e.JobID,
		&degraded, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	e.Status = domain.ExecutionStatus(status)
	if result.Valid {
		e.Result = []byte(result.String)
	}
	e.ExecutionTime = time.Duration(execMs) * time.Millisecond
	e.Degraded = degraded != 0
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
