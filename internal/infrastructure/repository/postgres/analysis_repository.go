package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// CreateWithProjectStatus inserts the analysis row and advances the owning
// project to ANALYZED in one transaction, so a reader never observes a
// completed analysis against a project still marked ANALYZING.
func (r *AnalysisRepository) CreateWithProjectStatus(ctx context.Context, a *domain.Analysis, projectID string) error {
	techStackJSON, err := json.Marshal(a.TechStack)
	if err != nil {
		return fmt.Errorf("marshal tech stack: %w", err)
	}
	recsJSON, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	gapsJSON, err := json.Marshal(a.ProductionGaps)
	if err != nil {
		return fmt.Errorf("marshal production gaps: %w", err)
	}
	valueJSON, err := json.Marshal(a.EstimatedValue)
	if err != nil {
		return fmt.Errorf("marshal estimated value: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin analysis tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO analyses (
	id, project_id, summary, tech_stack, complexity, recommendations,
	completion_score, maturity_level, production_gaps, estimated_value,
	model, tokens_used, cache_hit, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		a.ID, projectID, a.Summary, techStackJSON, string(a.Complexity), recsJSON,
		a.CompletionScore, string(a.MaturityLevel), gapsJSON, valueJSON,
		a.Model, a.TokensUsed, a.CacheHit, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
UPDATE projects SET status = $2, analyzed_at = $3, updated_at = $3 WHERE id = $1
`, projectID, string(domain.StatusAnalyzed), now)
	if err != nil {
		return fmt.Errorf("update project status on completion: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project status rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrProjectNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis tx: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) ListByProject(ctx context.Context, projectID string) ([]domain.Analysis, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, project_id, summary, tech_stack, complexity, recommendations,
	completion_score, maturity_level, production_gaps, estimated_value,
	model, tokens_used, cache_hit, created_at
FROM analyses
WHERE project_id = $1
ORDER BY created_at DESC
`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Analysis, 0)
	for rows.Next() {
		var a domain.Analysis
		var techStackRaw, recsRaw, gapsRaw, valueRaw []byte
		var complexity, maturity string
		if err := rows.Scan(
			&a.ID, &a.ProjectID, &a.Summary, &techStackRaw, &complexity, &recsRaw,
			&a.CompletionScore, &maturity, &gapsRaw, &valueRaw,
			&a.Model, &a.TokensUsed, &a.CacheHit, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal(techStackRaw, &a.TechStack); err != nil {
			return nil, fmt.Errorf("unmarshal tech stack: %w", err)
		}
		if err := json.Unmarshal(recsRaw, &a.Recommendations); err != nil {
			return nil, fmt.Errorf("unmarshal recommendations: %w", err)
		}
		if err := json.Unmarshal(gapsRaw, &a.ProductionGaps); err != nil {
			return nil, fmt.Errorf("unmarshal production gaps: %w", err)
		}
		if err := json.Unmarshal(valueRaw, &a.EstimatedValue); err != nil {
			return nil, fmt.Errorf("unmarshal estimated value: %w", err)
		}
		a.Complexity = domain.ComplexityLevel(complexity)
		a.MaturityLevel = domain.MaturityLevel(maturity)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return out, nil
}
