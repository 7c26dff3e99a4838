package context

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractAdmitsReadmeAndManifestFirst(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "README.md"), "# my project\nsome docs")
	mustWrite(t, filepath.Join(dir, "go.mod"), "module example.com/x\n")
	mustWrite(t, filepath.Join(dir, "main.go"), "package main\n")

	e := New()
	ctx, err := e.Extract(context.Background(), dir, 10000)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ctx.Readme == nil || !strings.Contains(ctx.Readme.Content, "my project") {
		t.Fatalf("expected readme content to be captured, got %+v", ctx.Readme)
	}
	if ctx.Manifest == nil || !strings.Contains(ctx.Manifest.Content, "module example.com/x") {
		t.Fatalf("expected manifest content to be captured, got %+v", ctx.Manifest)
	}
	if len(ctx.Files) != 1 || ctx.Files[0].Path != filepath.Join(dir, "main.go") {
		t.Fatalf("expected main.go as the remaining candidate, got %+v", ctx.Files)
	}
}

func TestExtractStopsAtTokenBudget(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.go"), strings.Repeat("x", 4000))
	mustWrite(t, filepath.Join(dir, "b.go"), strings.Repeat("y", 4000))

	e := New()
	ctx, err := e.Extract(context.Background(), dir, 500) // ~2000 bytes
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(ctx.Files) == 0 {
		t.Fatal("expected at least one truncated file within budget")
	}
	if !ctx.Files[len(ctx.Files)-1].Truncated && ctx.EstimatedTokens > 500 {
		t.Fatalf("expected the budget to be respected, estimated %d tokens", ctx.EstimatedTokens)
	}
}

func TestExtractSkipsVendorDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "vendor"), 0o755); err != nil {
		t.Fatalf("mkdir vendor: %v", err)
	}
	mustWrite(t, filepath.Join(dir, "vendor", "dep.go"), "package vendor\n")
	mustWrite(t, filepath.Join(dir, "main.go"), "package main\n")

	e := New()
	ctx, err := e.Extract(context.Background(), dir, 10000)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for _, f := range ctx.Files {
		if strings.Contains(f.Path, "vendor") {
			t.Fatalf("expected vendor/ to be skipped, got file %s", f.Path)
		}
	}
}

func TestExtractHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "main.go"), "package main\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New()
	_, err := e.Extract(ctx, dir, 10000)
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
