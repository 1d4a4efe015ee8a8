package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ahrav/go-discover/internal/domain"
)

// InsertDimensionScores stores scores that are not yet present for their
// (evaluation, dimension) key and returns how many were new.
func (s *Store) InsertDimensionScores(ctx context.Context, scores []domain.DimensionScore) (int, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin score insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dimension_scores (evaluation_id, dimension, score, confidence, explanation,
			recommendations, source_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (evaluation_id, dimension) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare score insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, d := range scores {
		if err := d.Validate(); err != nil {
			return 0, fmt.Errorf("dimension %s: %w", d.Dimension, err)
		}
		recs, err := marshalJSON(orEmptySlice(d.Recommendations))
		if err != nil {
			return 0, err
		}
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		res, err := stmt.ExecContext(ctx, d.EvaluationID, string(d.Dimension), d.Score, d.Confidence,
			d.Explanation, recs, d.SourceAgent, formatTime(createdAt))
		if err != nil {
			return 0, fmt.Errorf("insert dimension %s: %w", d.Dimension, err)
		}
		if ok, err := affected(res); err != nil {
			return 0, err
		} else if ok {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit score insert: %w", err)
	}
	return inserted, nil
}

// ListDimensionScores returns the scores of an evaluation ordered by dimension.
func (s *Store) ListDimensionScores(ctx context.Context, evaluationID string) ([]domain.DimensionScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT evaluation_id, dimension, score, confidence, explanation, recommendations, source_agent, created_at
		FROM dimension_scores WHERE evaluation_id = ? ORDER BY dimension`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list dimension scores of %s: %w", evaluationID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.DimensionScore
	for rows.Next() {
		var (
			d         domain.DimensionScore
			dim, recs string
			createdAt string
		)
		if err := rows.Scan(&d.EvaluationID, &dim, &d.Score, &d.Confidence, &d.Explanation, &recs,
			&d.SourceAgent, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dimension score: %w", err)
		}
		d.Dimension = domain.Dimension(dim)
		if err := json.Unmarshal([]byte(recs), &d.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dimension scores: %w", err)
	}
	return out, nil
}
