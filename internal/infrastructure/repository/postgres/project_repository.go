package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ProjectRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across watcher/worker/realtime startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026080301)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	description TEXT,
	framework TEXT,
	language TEXT,
	package_manager TEXT,
	file_count INTEGER NOT NULL DEFAULT 0,
	lines_of_code INTEGER NOT NULL DEFAULT 0,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	last_modified TIMESTAMPTZ,
	status TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	discovered_at TIMESTAMPTZ NOT NULL,
	analyzed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_projects_is_active ON projects(is_active);
CREATE INDEX IF NOT EXISTS idx_projects_discovered_at ON projects(discovered_at);
CREATE INDEX IF NOT EXISTS idx_projects_status_discovered_at ON projects(status, discovered_at);
CREATE INDEX IF NOT EXISTS idx_projects_framework ON projects(framework);
CREATE INDEX IF NOT EXISTS idx_projects_language ON projects(language);

CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	summary TEXT,
	tech_stack JSONB NOT NULL DEFAULT '{}'::jsonb,
	complexity TEXT,
	recommendations JSONB NOT NULL DEFAULT '[]'::jsonb,
	completion_score INTEGER NOT NULL DEFAULT 0,
	maturity_level TEXT,
	production_gaps JSONB NOT NULL DEFAULT '[]'::jsonb,
	estimated_value JSONB NOT NULL DEFAULT '{}'::jsonb,
	model TEXT,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_project_id ON analyses(project_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);

CREATE TABLE IF NOT EXISTS tags (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	color TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS project_tags (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (project_id, tag_id)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO projects (
	id, name, path, description, framework, language, package_manager,
	file_count, lines_of_code, size_bytes, last_modified, status, is_active,
	discovered_at, analyzed_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		p.ID, p.Name, p.Path, p.Description, p.Framework, p.Language, p.PackageManager,
		p.FileCount, p.LinesOfCode, p.SizeBytes, p.LastModified, string(p.Status), p.IsActive,
		p.DiscoveredAt, p.AnalyzedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.WrapError(domain.ErrInvalidInput, "project.create", err)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, projectSelect+"WHERE id = $1", id))
}

func (r *ProjectRepository) GetByPath(ctx context.Context, path string) (*domain.Project, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, projectSelect+"WHERE path = $1", path))
}

const projectSelect = `
SELECT id, name, path, description, framework, language, package_manager,
	file_count, lines_of_code, size_bytes, last_modified, status, is_active,
	discovered_at, analyzed_at, updated_at
FROM projects
`

func (r *ProjectRepository) scanOne(row *sql.Row) (*domain.Project, error) {
	var p domain.Project
	var status string
	err := row.Scan(
		&p.ID, &p.Name, &p.Path, &p.Description, &p.Framework, &p.Language, &p.PackageManager,
		&p.FileCount, &p.LinesOfCode, &p.SizeBytes, &p.LastModified, &status, &p.IsActive,
		&p.DiscoveredAt, &p.AnalyzedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrProjectNotFound, "project.get", err)
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.Status = domain.ProjectStatus(status)
	return &p, nil
}

// UpdateDiscovered refreshes descriptive fields on a re-discovered path
// without touching Status, which only the worker pipeline or an admin
// operation may move.
func (r *ProjectRepository) UpdateDiscovered(ctx context.Context, p *domain.Project) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE projects
SET name = $2, description = $3, framework = $4, language = $5, package_manager = $6,
	file_count = $7, lines_of_code = $8, size_bytes = $9, last_modified = $10,
	is_active = TRUE, updated_at = $11
WHERE id = $1
`, p.ID, p.Name, p.Description, p.Framework, p.Language, p.PackageManager,
		p.FileCount, p.LinesOfCode, p.SizeBytes, p.LastModified, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update discovered project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) UpdateStatus(ctx context.Context, id string, status domain.ProjectStatus, analyzedAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE projects
SET status = $2, analyzed_at = COALESCE($3, analyzed_at), updated_at = $4
WHERE id = $1
`, id, string(status), analyzedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project status rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

// MarkRemoved flips IsActive off and archives the row rather than deleting
// it, preserving analysis history for a project whose directory later
// reappears.
func (r *ProjectRepository) MarkRemoved(ctx context.Context, path string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE projects SET is_active = FALSE, status = $3, updated_at = $2 WHERE path = $1
`, path, time.Now().UTC(), string(domain.StatusArchived))
	if err != nil {
		return fmt.Errorf("mark project removed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark project removed rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

// ResetStuck moves an ANALYZING project back to DISCOVERED; it is the
// admin-operation counterpart to the worker pipeline's own transitions.
func (r *ProjectRepository) ResetStuck(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE projects SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4
`, id, string(domain.StatusDiscovered), time.Now().UTC(), string(domain.StatusAnalyzing))
	if err != nil {
		return fmt.Errorf("reset stuck project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) UpdateStats(ctx context.Context, id string, fileCount, linesOfCode int, sizeBytes int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE projects SET file_count = $2, lines_of_code = $3, size_bytes = $4, updated_at = $5 WHERE id = $1
`, id, fileCount, linesOfCode, sizeBytes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update project stats: %w", err)
	}
	return nil
}
