package validator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateRejectsSystemDirectories(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "node_modules")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	v := New()
	result := v.Validate(target)
	if result.Valid {
		t.Fatalf("expected node_modules to be rejected, got %+v", result)
	}
}

func TestValidateAcceptsStrongMarker(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}

	v := New()
	result := v.Validate(dir)
	if !result.Valid || result.Type != "go" {
		t.Fatalf("expected a valid go project, got %+v", result)
	}
	if result.Confidence < 0.9 {
		t.Fatalf("expected high confidence for a strong marker, got %v", result.Confidence)
	}
	if result.PackageManager != "go" {
		t.Fatalf("expected package manager 'go', got %q", result.PackageManager)
	}
}

func TestValidateRejectsEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	v := New()
	result := v.Validate(dir)
	if result.Valid {
		t.Fatalf("expected empty directory to be rejected, got %+v", result)
	}
}

func TestValidateDetectsReactViaPackageJSON(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"dependencies":{"react":"^18.0.0"}}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}

	v := New()
	result := v.Validate(dir)
	if !result.Valid || result.Type != "node" {
		t.Fatalf("expected a valid node project, got %+v", result)
	}
	if result.Framework != "React" {
		t.Fatalf("expected React framework detection, got %q", result.Framework)
	}
	if result.Language != "JavaScript" {
		t.Fatalf("expected JavaScript language, got %q", result.Language)
	}
}

func TestValidateDetectsTypeScriptViaFileExtensionsWithoutTsconfig(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"dependencies":{"react":"^18.0.0"}}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}
	srcDir := filepath.Join(dir, "src")
	if err := os.Mkdir(srcDir, 0o755); err != nil {
		t.Fatalf("mkdir src: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "index.tsx"), []byte("export default function App() {}\n"), 0o644); err != nil {
		t.Fatalf("write index.tsx: %v", err)
	}

	v := New()
	result := v.Validate(dir)
	if !result.Valid || result.Type != "node" {
		t.Fatalf("expected a valid node project, got %+v", result)
	}
	if result.Language != "TypeScript" {
		t.Fatalf("expected TypeScript language from .tsx evidence, got %q", result.Language)
	}
}

func TestExtractCountsFilesAndLines(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	src := "package main\n\n// a comment\nfunc main() {\n\tprintln(\"hi\")\n}\n"
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(src), 0o644); err != nil {
		t.Fatalf("write main.go: %v", err)
	}

	v := New()
	meta := v.Extract(dir)
	if meta.Type != "go" {
		t.Fatalf("expected type go, got %q", meta.Type)
	}
	if meta.FileCount != 2 {
		t.Fatalf("expected 2 files counted, got %d", meta.FileCount)
	}
	if meta.LinesOfCode == 0 {
		t.Fatalf("expected non-zero lines of code")
	}
}
