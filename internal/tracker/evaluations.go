package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahrav/go-discover/internal/domain"
)

const evaluationColumns = `id, brand_id, brand_name, website_url, tier, status, overall_score, grade,
	pillar_scores, strongest, weakest, biggest_opportunity, reduced_reliability, missing_agents, error,
	created_at, updated_at, completed_at`

// CreateEvaluation inserts a new evaluation.
func (s *Store) CreateEvaluation(ctx context.Context, e *domain.Evaluation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, brand_id, brand_name, website_url, tier, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BrandID, e.BrandName, e.WebsiteURL, string(e.Tier), string(e.Status),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert evaluation %s: %w", e.ID, err)
	}
	return nil
}

// GetEvaluation loads one evaluation or returns domain.ErrNotFound.
func (s *Store) GetEvaluation(ctx context.Context, id string) (*domain.Evaluation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`, id)
	e, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// MarkProcessing moves a pending evaluation to processing. It reports false
// when the evaluation was not pending.
func (s *Store) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evaluations SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.EvaluationProcessing), formatTime(s.now()), id, string(domain.EvaluationPending))
	if err != nil {
		return false, fmt.Errorf("mark evaluation %s processing: %w", id, err)
	}
	return affected(res)
}

// Finalize writes the final state of an evaluation. Only the first caller
// for a non-terminal evaluation succeeds; later callers get false.
func (s *Store) Finalize(ctx context.Context, id string, f domain.Finalization) (bool, error) {
	if !f.Status.IsTerminal() {
		return false, fmt.Errorf("finalize %s with non-terminal status %q", id, f.Status)
	}
	pillars, err := marshalJSON(orEmptyMap(f.PillarScores))
	if err != nil {
		return false, err
	}
	missing, err := marshalJSON(orEmptySlice(f.MissingAgents))
	if err != nil {
		return false, err
	}
	var overall sql.NullFloat64
	if f.OverallScore != nil {
		overall = sql.NullFloat64{Float64: *f.OverallScore, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE evaluations SET
			status = ?, overall_score = ?, grade = ?, pillar_scores = ?,
			strongest = ?, weakest = ?, biggest_opportunity = ?,
			reduced_reliability = ?, missing_agents = ?, error = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		string(f.Status), overall, string(f.Grade), pillars,
		string(f.Strongest), string(f.Weakest), string(f.BiggestOpportunity),
		boolInt(f.ReducedReliability), missing, f.Error,
		formatTime(f.CompletedAt), formatTime(f.CompletedAt),
		id)
	if err != nil {
		return false, fmt.Errorf("finalize evaluation %s: %w", id, err)
	}
	return affected(res)
}

// ListNonTerminal returns every evaluation still pending or processing,
// oldest first.
func (s *Store) ListNonTerminal(ctx context.Context) ([]*domain.Evaluation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations
		WHERE status NOT IN ('completed', 'failed') ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal evaluations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return out, nil
}

func scanEvaluation(row scanner) (*domain.Evaluation, error) {
	var (
		e                         domain.Evaluation
		tier, status, grade       string
		strongest, weakest, oppty string
		overall                   sql.NullFloat64
		pillars, missing          string
		reduced                   int
		createdAt, updatedAt      string
		completedAt               sql.NullString
	)
	err := row.Scan(&e.ID, &e.BrandID, &e.BrandName, &e.WebsiteURL, &tier, &status, &overall, &grade,
		&pillars, &strongest, &weakest, &oppty, &reduced, &missing, &e.Error,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}

	e.Tier = domain.Tier(tier)
	e.Status = domain.EvaluationStatus(status)
	e.Grade = domain.Grade(grade)
	e.Strongest = domain.Dimension(strongest)
	e.Weakest = domain.Dimension(weakest)
	e.BiggestOpportunity = domain.Dimension(oppty)
	e.ReducedReliability = reduced != 0
	if overall.Valid {
		v := overall.Float64
		e.OverallScore = &v
	}
	if err := json.Unmarshal([]byte(pillars), &e.PillarScores); err != nil {
		return nil, fmt.Errorf("decode pillar scores of %s: %w", e.ID, err)
	}
	if len(e.PillarScores) == 0 {
		e.PillarScores = nil
	}
	if err := json.Unmarshal([]byte(missing), &e.MissingAgents); err != nil {
		return nil, fmt.Errorf("decode missing agents of %s: %w", e.ID, err)
	}
	if len(e.MissingAgents) == 0 {
		e.MissingAgents = nil
	}
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

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func orEmptyMap(m map[domain.Pillar]float64) map[domain.Pillar]float64 {
	if m == nil {
		return map[domain.Pillar]float64{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
