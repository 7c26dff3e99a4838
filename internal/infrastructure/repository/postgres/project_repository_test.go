package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

func newProjectRepoWithMock(t *testing.T) (*ProjectRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &ProjectRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newProjectRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, name, path").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newProjectRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE projects").
		WithArgs("missing", string(domain.StatusAnalyzing), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", domain.StatusAnalyzing, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkRemovedReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newProjectRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE projects SET is_active").
		WithArgs("/missing/path", sqlmock.AnyArg(), string(domain.StatusArchived)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRemoved(context.Background(), "/missing/path")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByPathScansActiveProject(t *testing.T) {
	repo, mock, done := newProjectRepoWithMock(t)
	defer done()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "name", "path", "description", "framework", "language", "package_manager",
		"file_count", "lines_of_code", "size_bytes", "last_modified", "status", "is_active",
		"discovered_at", "analyzed_at", "updated_at",
	}).AddRow("p-1", "demo", "/repos/demo", "", "next", "typescript", "npm",
		10, 100, 2048, now, string(domain.StatusDiscovered), true, now, nil, now)

	mock.ExpectQuery("SELECT id, name, path").
		WithArgs("/repos/demo").
		WillReturnRows(rows)

	p, err := repo.GetByPath(context.Background(), "/repos/demo")
	if err != nil {
		t.Fatalf("GetByPath() error = %v", err)
	}
	if p.Status != domain.StatusDiscovered {
		t.Fatalf("expected status DISCOVERED, got %v", p.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
