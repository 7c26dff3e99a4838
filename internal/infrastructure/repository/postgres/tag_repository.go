package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

type TagRepository struct {
	db *sql.DB
}

func NewTagRepository(db *sql.DB) *TagRepository {
	return &TagRepository{db: db}
}

// EnsureByName is idempotent: a second call for the same name returns the
// row created by the first, rather than a unique-constraint error.
func (r *TagRepository) EnsureByName(ctx context.Context, name string) (*domain.Tag, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, color, created_at, updated_at FROM tags WHERE name = $1`, name)
	tag, err := scanTag(row)
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup tag: %w", err)
	}

	now := time.Now().UTC()
	created := domain.Tag{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO tags (id, name, color, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (name) DO NOTHING
`, created.ID, created.Name, created.Color, created.CreatedAt, created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}

	row = r.db.QueryRowContext(ctx, `SELECT id, name, color, created_at, updated_at FROM tags WHERE name = $1`, name)
	tag, err = scanTag(row)
	if err != nil {
		return nil, fmt.Errorf("reload tag after insert: %w", err)
	}
	return &tag, nil
}

func scanTag(row *sql.Row) (domain.Tag, error) {
	var t domain.Tag
	err := row.Scan(&t.ID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}
