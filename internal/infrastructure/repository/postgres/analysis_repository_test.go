package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

func newAnalysisRepoWithMock(t *testing.T) (*AnalysisRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &AnalysisRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestCreateWithProjectStatusCommitsOnSuccess(t *testing.T) {
	repo, mock, done := newAnalysisRepoWithMock(t)
	defer done()

	a := &domain.Analysis{
		ID:              "a-1",
		ProjectID:       "p-1",
		Summary:         "a tidy project",
		TechStack:       domain.TechStack{"language": {"Go"}},
		Complexity:      domain.ComplexitySimple,
		MaturityLevel:   domain.MaturityPrototype,
		ProductionGaps:  []string{},
		EstimatedValue:  domain.EstimatedValue{Confidence: "low"},
		Model:           "claude-sonnet-4-5",
		CreatedAt:       time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO analyses").
		WithArgs(a.ID, "p-1", a.Summary, sqlmock.AnyArg(), string(a.Complexity), sqlmock.AnyArg(),
			a.CompletionScore, string(a.MaturityLevel), sqlmock.AnyArg(), sqlmock.AnyArg(),
			a.Model, a.TokensUsed, a.CacheHit, a.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE projects SET status").
		WithArgs("p-1", string(domain.StatusAnalyzed), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.CreateWithProjectStatus(context.Background(), a, "p-1"); err != nil {
		t.Fatalf("CreateWithProjectStatus() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateWithProjectStatusRollsBackWhenProjectMissing(t *testing.T) {
	repo, mock, done := newAnalysisRepoWithMock(t)
	defer done()

	a := &domain.Analysis{
		ID: "a-2", ProjectID: "p-missing",
		TechStack: domain.TechStack{}, ProductionGaps: []string{},
		CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO analyses").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE projects SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CreateWithProjectStatus(context.Background(), a, "p-missing")
	if !domain.IsKind(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListByProjectReturnsEmptySliceNotNil(t *testing.T) {
	repo, mock, done := newAnalysisRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{
		"id", "project_id", "summary", "tech_stack", "complexity", "recommendations",
		"completion_score", "maturity_level", "production_gaps", "estimated_value",
		"model", "tokens_used", "cache_hit", "created_at",
	})
	mock.ExpectQuery("SELECT id, project_id, summary").
		WithArgs("p-empty").
		WillReturnRows(rows)

	out, err := repo.ListByProject(context.Background(), "p-empty")
	if err != nil {
		t.Fatalf("ListByProject() error = %v", err)
	}
	if out == nil {
		t.Fatal("expected a non-nil empty slice")
	}
	if len(out) != 0 {
		t.Fatalf("expected no rows, got %d", len(out))
	}
}
