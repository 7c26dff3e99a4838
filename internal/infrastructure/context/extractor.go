// Package context implements C7: a prioritized, token-budgeted assembly of
// project context from the filesystem. Token counting and file admission
// order are domain-specific enough that no corpus library covers them; this
// stays on the standard library. The assembled context is rendered into a
// prompt by internal/infrastructure/llm/analyzer.
package context

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

const maxFileSize = 100 * 1024 // 100 KB

var manifestFiles = []string{
	"package.json", "Cargo.toml", "go.mod", "pom.xml", "composer.json",
	"Gemfile", "pyproject.toml",
}

var priorityFilenames = map[string]bool{
	"README.md": true, "README": true, "CLAUDE.md": true, "PRD.md": true,
	"ARCHITECTURE.md": true, "Makefile": true, "Dockerfile": true,
	"tsconfig.json": true, ".eslintrc.json": true,
}

var skipDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	"target": true, "coverage": true, "__pycache__": true, "vendor": true,
	".vscode": true, ".idea": true, ".next": true, "out": true, ".cache": true,
}

// Extractor is an approximate-but-stable token counter: 4 bytes per token,
// matching the order of magnitude most subword tokenizers produce for
// English/code text without depending on a model-specific tokenizer.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func (e *Extractor) Extract(ctx context.Context, projectPath string, maxTokens int) (domain.ProjectContext, error) {
	result := domain.ProjectContext{}
	budget := maxTokens

	if readme := findReadme(projectPath); readme != "" {
		content, truncated := readTruncated(readme, 2000*4)
		tokens := estimateTokens(content)
		result.Readme = &domain.ProjectContextFile{Path: readme, Content: content, Truncated: truncated, Tokens: tokens}
		budget -= tokens
	}

	if manifest := findManifest(projectPath); manifest != "" {
		data, err := os.ReadFile(manifest)
		if err == nil {
			content := string(data)
			tokens := estimateTokens(content)
			result.Manifest = &domain.ProjectContextFile{Path: manifest, Content: content, Tokens: tokens}
			budget -= tokens
		}
	}

	candidates := collectCandidates(projectPath)
	sortCandidates(candidates, projectPath)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if c.size > maxFileSize {
			continue
		}
		if budget <= 0 {
			break
		}

		data, err := os.ReadFile(c.path)
		if err != nil {
			continue
		}
		content := string(data)
		tokens := estimateTokens(content)

		if tokens > int(float64(budget)*0.9) {
			allowedChars := int(float64(budget)*0.9) * 4
			if allowedChars <= 0 {
				break
			}
			content = truncate(content, allowedChars) + "\n[... truncated ...]"
			tokens = estimateTokens(content)
			result.Files = append(result.Files, domain.ProjectContextFile{Path: c.path, Content: content, Truncated: true, Tokens: tokens})
			budget -= tokens
			break
		}

		result.Files = append(result.Files, domain.ProjectContextFile{Path: c.path, Content: content, Tokens: tokens})
		budget -= tokens
	}

	result.FileCount = len(candidates)
	result.EstimatedTokens = maxTokens - budget
	return result, nil
}

type candidate struct {
	path  string
	size  int64
	depth int
}

func collectCandidates(root string) []candidate {
	var out []candidate
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				if skipDirs[e.Name()] || strings.HasPrefix(e.Name(), ".") {
					continue
				}
				walk(filepath.Join(dir, e.Name()), depth+1)
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if isManifest(e.Name()) || isReadme(e.Name()) {
				continue
			}
			out = append(out, candidate{path: filepath.Join(dir, e.Name()), size: info.Size(), depth: depth})
		}
	}
	walk(root, 0)
	return out
}

func sortCandidates(candidates []candidate, root string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := priorityFilenames[filepath.Base(candidates[i].path)], priorityFilenames[filepath.Base(candidates[j].path)]
		if pi != pj {
			return pi
		}
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth < candidates[j].depth
		}
		return candidates[i].size < candidates[j].size
	})
	_ = root
}

func findReadme(root string) string {
	for _, name := range []string{"README.md", "README", "README.txt", "readme.md"} {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func findManifest(root string) string {
	for _, name := range manifestFiles {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func isManifest(name string) bool {
	for _, m := range manifestFiles {
		if m == name {
			return true
		}
	}
	return false
}

func isReadme(name string) bool {
	switch name {
	case "README.md", "README", "README.txt", "readme.md":
		return true
	}
	return false
}

func readTruncated(path string, maxChars int) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	content := string(data)
	if len(content) <= maxChars {
		return content, false
	}
	return truncate(content, maxChars) + "\n[... truncated ...]", true
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
