// Package validator implements C1: classifying a directory as a software
// project and extracting its metadata. There is no ecosystem library in the
// retrieved corpus for directory-heuristic project detection, so this stays
// on the standard library (os, path/filepath, bufio) by necessity — see
// DESIGN.md.
package validator

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

var systemDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	"target": true, "coverage": true, "__pycache__": true, "vendor": true,
	".vscode": true, ".idea": true, ".next": true, "out": true,
	".cache": true, ".svn": true, ".hg": true,
}

var strongMarkers = []struct {
	file string
	typ  string
}{
	{"package.json", "node"},
	{"Cargo.toml", "rust"},
	{"go.mod", "go"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
	{"composer.json", "php"},
	{"Gemfile", "ruby"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"Pipfile", "python"},
	{"pubspec.yaml", "dart"},
}

var sourceSubdirs = []string{
	"src", "lib", "app", "components", "services", "utils", "core",
	"modules", "backend", "frontend", "server", "client", "api", "web",
	"ui", "packages", "apps",
}

var codeExtensions = map[string]bool{
	".go": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".py": true, ".rs": true, ".java": true, ".rb": true, ".php": true,
	".cs": true, ".dart": true, ".c": true, ".cpp": true, ".h": true,
}

var buildToolingFiles = map[string]bool{
	"Makefile": true, "Dockerfile": true, "docker-compose.yml": true,
	".eslintrc": true, ".eslintrc.json": true, "tsconfig.json": true,
	"webpack.config.js": true, "vite.config.ts": true,
}

var frameworkPrecedence = []struct {
	dep  string
	name string
}{
	{"next", "Next.js"}, {"nuxt", "Nuxt"}, {"@remix-run/react", "Remix"},
	{"gatsby", "Gatsby"}, {"astro", "Astro"}, {"@sveltejs/kit", "SvelteKit"},
	{"@builder.io/qwik-city", "Qwik City"}, {"@angular/core", "Angular"},
	{"react", "React"}, {"vue", "Vue"}, {"svelte", "Svelte"},
	{"solid-js", "Solid"}, {"preact", "Preact"}, {"express", "Express"},
	{"fastify", "Fastify"}, {"@nestjs/core", "NestJS"}, {"koa", "Koa"},
	{"hono", "Hono"}, {"@hapi/hapi", "Hapi"},
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate implements C1's contract: reject paths that are not directories,
// empty, dotfiles, or in the system directory set; otherwise score by
// strong/nested/generic markers and accept at confidence >= 0.5.
func (v *Validator) Validate(path string) domain.ValidationResult {
	base := filepath.Base(path)
	if base == "" || strings.HasPrefix(base, ".") || systemDirs[base] {
		return domain.ValidationResult{Valid: false}
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return domain.ValidationResult{Valid: false}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return domain.ValidationResult{Valid: false}
	}
	if len(entries) == 0 {
		return domain.ValidationResult{Valid: false}
	}

	if typ, confidence, ok := strongMarkerMatch(path, entries); ok {
		result := domain.ValidationResult{Valid: true, Type: typ, Confidence: confidence, PackageManager: packageManagerFor(typ)}
		v.annotateLanguageFramework(path, typ, &result)
		return result
	}

	if typ, confidence, ok := nestedMarkerMatch(path); ok {
		result := domain.ValidationResult{Valid: true, Type: typ, Confidence: confidence, PackageManager: packageManagerFor(typ)}
		v.annotateLanguageFramework(path, typ, &result)
		return result
	}

	confidence := genericScore(path, entries)
	if confidence < 0.5 {
		return domain.ValidationResult{Valid: false, Confidence: confidence}
	}
	result := domain.ValidationResult{Valid: true, Type: "generic", Confidence: confidence}
	v.annotateLanguageFramework(path, "generic", &result)
	return result
}

func strongMarkerMatch(path string, entries []os.DirEntry) (string, float64, bool) {
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	for _, m := range strongMarkers {
		if names[m.file] {
			return m.typ, 0.95, true
		}
	}
	// *.csproj / *.sln are globbed rather than fixed names.
	for name := range names {
		if strings.HasSuffix(name, ".csproj") || strings.HasSuffix(name, ".sln") {
			return "csharp", 0.9, true
		}
	}
	_ = path
	return "", 0, false
}

func nestedMarkerMatch(path string) (string, float64, bool) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", 0, false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(path, e.Name())
		subEntries, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		if typ, _, ok := strongMarkerMatch(sub, subEntries); ok {
			return typ, 0.85, true
		}
	}
	return "", 0, false
}

func genericScore(path string, entries []os.DirEntry) float64 {
	names := make(map[string]bool, len(entries))
	dirs := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
		if e.IsDir() {
			dirs[e.Name()] = true
		}
	}

	score := 0.0
	if dirs[".git"] {
		score += 0.25
	}
	if hasReadme(names) {
		score += 0.15
	}
	for _, sd := range sourceSubdirs {
		if dirs[sd] {
			score += 0.20
			break
		}
	}
	if countCodeFiles(path, entries) >= 2 {
		score += 0.15
	}
	for name := range names {
		if buildToolingFiles[name] {
			score += 0.10
			break
		}
	}
	if dirs["docs"] {
		score += 0.05
	}
	if dirs["test"] || dirs["tests"] {
		score += 0.05
	}
	if score > 0.95 {
		score = 0.95
	}
	return score
}

func hasReadme(names map[string]bool) bool {
	for _, variant := range []string{"README.md", "README", "README.txt", "readme.md"} {
		if names[variant] {
			return true
		}
	}
	return false
}

func countCodeFiles(path string, entries []os.DirEntry) int {
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if codeExtensions[filepath.Ext(e.Name())] {
			count++
		}
	}
	_ = path
	return count
}

func packageManagerFor(typ string) string {
	switch typ {
	case "node":
		return "npm"
	case "rust":
		return "cargo"
	case "go":
		return "go"
	case "php":
		return "composer"
	case "ruby":
		return "bundler"
	case "python":
		return "pip"
	case "dart":
		return "pub"
	default:
		return ""
	}
}

func (v *Validator) annotateLanguageFramework(path, typ string, result *domain.ValidationResult) {
	switch typ {
	case "node":
		result.Language = "JavaScript"
		result.Framework, result.Language = detectNodeFramework(path)
	case "python":
		result.Language = "Python"
		result.Framework = detectPythonFramework(path)
	case "go":
		result.Language = "Go"
	case "rust":
		result.Language = "Rust"
	case "java":
		result.Language = "Java"
	case "php":
		result.Language = "PHP"
	case "ruby":
		result.Language = "Ruby"
	case "dart":
		result.Language = "Dart"
	case "csharp":
		result.Language = "C#"
	}
}

// detectNodeFramework inspects package.json's dependency maps and returns
// the highest-precedence match, plus a TypeScript/JavaScript language
// guess. tsconfig.json presence is the strong signal; absent that, the
// language falls back to whichever of .ts/.tsx or .js/.jsx appears more
// often in the tree, since plenty of TypeScript React projects ship
// without a tsconfig at the project root the validator inspects.
func detectNodeFramework(path string) (framework, language string) {
	language = "JavaScript"
	if _, err := os.Stat(filepath.Join(path, "tsconfig.json")); err == nil {
		language = "TypeScript"
	} else if lang := nodeExtensionLanguage(path); lang != "" {
		language = lang
	}

	data, err := os.ReadFile(filepath.Join(path, "package.json"))
	if err != nil {
		return "", language
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", language
	}
	for _, fw := range frameworkPrecedence {
		if _, ok := manifest.Dependencies[fw.dep]; ok {
			return fw.name, language
		}
		if _, ok := manifest.DevDependencies[fw.dep]; ok {
			return fw.name, language
		}
	}
	return "", language
}

// nodeExtensionLanguage ranks TypeScript against JavaScript by file count
// across the tree, for node projects with no tsconfig.json to go by.
func nodeExtensionLanguage(path string) string {
	_, _, langCounts, _ := walkStats(path)
	tsCount := langCounts[".ts"] + langCounts[".tsx"]
	jsCount := langCounts[".js"] + langCounts[".jsx"]
	switch {
	case tsCount > jsCount:
		return "TypeScript"
	case jsCount > 0:
		return "JavaScript"
	default:
		return ""
	}
}

func detectPythonFramework(path string) string {
	data, err := os.ReadFile(filepath.Join(path, "requirements.txt"))
	if err != nil {
		return ""
	}
	text := strings.ToLower(string(data))
	switch {
	case strings.Contains(text, "django"):
		return "Django"
	case strings.Contains(text, "fastapi"):
		return "FastAPI"
	case strings.Contains(text, "flask"):
		return "Flask"
	}
	return ""
}

// Extract populates a full ProjectMetadata record. Every filesystem error is
// locally absorbed: missing fields rather than a failed extraction.
func (v *Validator) Extract(path string) domain.ProjectMetadata {
	result := v.Validate(path)
	meta := domain.ProjectMetadata{
		Type:           result.Type,
		Framework:      result.Framework,
		Language:       result.Language,
		PackageManager: result.PackageManager,
	}

	if info, err := os.Stat(path); err == nil {
		meta.LastModified = info.ModTime().Unix()
	}

	fileCount, sizeBytes, langCounts, loc := walkStats(path)
	meta.FileCount = fileCount
	meta.SizeBytes = sizeBytes
	meta.LinesOfCode = loc
	if meta.Language == "" {
		meta.Language = primaryLanguage(langCounts)
	}
	meta.SecondaryLangs = secondaryLanguages(langCounts, meta.Language)
	return meta
}

var markupOrConfigExt = map[string]bool{
	".md": true, ".json": true, ".yaml": true, ".yml": true, ".txt": true,
	".toml": true, ".xml": true, ".html": true, ".css": true,
}

func walkStats(root string) (fileCount int, sizeBytes int64, langCounts map[string]int, loc int) {
	langCounts = make(map[string]int)
	const maxDepth = 6

	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > maxDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				if systemDirs[e.Name()] || strings.HasPrefix(e.Name(), ".") {
					continue
				}
				walk(filepath.Join(dir, e.Name()), depth+1)
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			fileCount++
			sizeBytes += info.Size()

			ext := filepath.Ext(e.Name())
			if ext != "" && !markupOrConfigExt[ext] {
				langCounts[ext]++
			}
			if codeExtensions[ext] {
				loc += countLines(filepath.Join(dir, e.Name()), ext)
			}
		}
	}
	walk(root, 0)
	return
}

var extToLanguage = map[string]string{
	".go": "Go", ".js": "JavaScript", ".ts": "TypeScript", ".tsx": "TypeScript",
	".jsx": "JavaScript", ".py": "Python", ".rs": "Rust", ".java": "Java",
	".rb": "Ruby", ".php": "PHP", ".cs": "C#", ".dart": "Dart",
	".c": "C", ".cpp": "C++", ".h": "C",
}

func primaryLanguage(langCounts map[string]int) string {
	type pair struct {
		ext   string
		count int
	}
	pairs := make([]pair, 0, len(langCounts))
	for ext, count := range langCounts {
		if extToLanguage[ext] == "" {
			continue
		}
		pairs = append(pairs, pair{ext, count})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].count > pairs[j].count })
	if len(pairs) == 0 {
		return ""
	}
	return extToLanguage[pairs[0].ext]
}

func secondaryLanguages(langCounts map[string]int, primary string) []string {
	seen := map[string]bool{primary: true}
	var out []string
	type pair struct {
		ext   string
		count int
	}
	pairs := make([]pair, 0, len(langCounts))
	for ext, count := range langCounts {
		if extToLanguage[ext] == "" {
			continue
		}
		pairs = append(pairs, pair{ext, count})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].count > pairs[j].count })
	for _, p := range pairs {
		lang := extToLanguage[p.ext]
		if seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, lang)
	}
	return out
}

// commentPrefixes maps a code extension family to its single-line comment
// marker, used by a simple two-state (in-block-comment or not) line scanner.
var commentPrefixes = map[string]string{
	".go": "//", ".js": "//", ".ts": "//", ".tsx": "//", ".jsx": "//",
	".java": "//", ".rs": "//", ".c": "//", ".cpp": "//", ".cs": "//",
	".py": "#", ".rb": "#", ".php": "//",
}

func countLines(path, ext string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	prefix := commentPrefixes[ext]
	lines := 0
	inBlock := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if inBlock {
			if strings.Contains(line, "*/") {
				inBlock = false
			}
			continue
		}
		if prefix != "" && strings.HasPrefix(line, prefix) {
			continue
		}
		if strings.HasPrefix(line, "/*") {
			if !strings.Contains(line, "*/") {
				inBlock = true
			}
			continue
		}
		lines++
	}
	return lines
}
