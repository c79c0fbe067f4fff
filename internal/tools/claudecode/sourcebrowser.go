package claudecode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// sourceBrowser lets claude_code read the repo's own source under a
// whitelist/blocklist boundary, ported from
// original_source/api/tools/source_code.py.
type sourceBrowser struct {
	root string
	rg   bool
}

func newSourceBrowser(root string) *sourceBrowser {
	_, err := exec.LookPath("rg")
	return &sourceBrowser{root: root, rg: err == nil}
}

var allowedPaths = []string{
	"internal", "cmd", "pkg",
	"go.mod", "go.sum",
	"README.md", "LICENSE", "DESIGN.md",
}

var blockedPatterns = []string{
	".env", "*.key", "*.pem", "*.p12", "*.pfx",
	"config/",
	"data/", "*.db", "*.log",
	".git/", ".vscode/", ".idea/",
}

var allowedExtensions = map[string]bool{
	".go": true, ".sql": true, ".md": true, ".toml": true, ".txt": true,
	".mod": true, ".sum": true, ".json": true, ".yaml": true, ".yml": true,
}

const (
	maxReadLines    = 500
	maxFileSize     = 50 * 1024
	maxSearchResult = 30
)

// isPathAllowed mirrors _is_path_allowed: deny-first blocklist, then an
// allowlist of top-level paths, with resolution guarded against traversal
// outside root.
func (b *sourceBrowser) isPathAllowed(relPath string) (bool, string) {
	relPath = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(relPath), "/"), "\\")
	if relPath == "" {
		return false, "empty path not allowed"
	}

	abs, err := filepath.Abs(filepath.Join(b.root, relPath))
	if err != nil {
		return false, fmt.Sprintf("invalid path: %v", err)
	}
	rootAbs, _ := filepath.Abs(b.root)
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false, "access denied: path outside project"
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range blockedPatterns {
		switch {
		case strings.HasSuffix(pattern, "/"):
			dir := strings.TrimSuffix(pattern, "/")
			if rel == dir || strings.HasPrefix(rel, dir+"/") {
				return false, fmt.Sprintf("access denied: %s/ is restricted", dir)
			}
		case strings.HasPrefix(pattern, "*."):
			if strings.HasSuffix(rel, pattern[1:]) {
				return false, fmt.Sprintf("access denied: %s files restricted", pattern)
			}
		default:
			if rel == pattern || strings.HasPrefix(rel, pattern+"/") {
				return false, fmt.Sprintf("access denied: %s is restricted", pattern)
			}
		}
	}

	for _, allowed := range allowedPaths {
		if rel == allowed || strings.HasPrefix(rel, allowed+"/") {
			return true, ""
		}
	}
	return false, "access denied: path not in allowed directories"
}

// search runs ripgrep across allowed paths, filtering any hit that resolves
// outside the allowlist before it reaches the model.
func (b *sourceBrowser) search(query, path string) string {
	if !b.rg {
		return "Error: ripgrep (rg) not installed"
	}
	if query == "" {
		return "Error: query is required for search"
	}

	var searchPaths []string
	if path != "" {
		if ok, reason := b.isPathAllowed(path); !ok {
			return "Error: " + reason
		}
		searchPaths = []string{filepath.Join(b.root, path)}
	} else {
		for _, p := range allowedPaths {
			full := filepath.Join(b.root, p)
			if info, err := os.Stat(full); err == nil && info.IsDir() {
				searchPaths = append(searchPaths, full)
			}
		}
	}
	if len(searchPaths) == 0 {
		return "Error: no valid paths to search"
	}

	args := []string{"--max-count=5", "--max-filesize=100K", "-n", "--no-heading", "-i", query}
	args = append(args, searchPaths...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "rg", args...)
	cmd.Dir = b.root
	var out bytes.Buffer
	cmd.Stdout = &out
	_ = cmd.Run() // rg exits 1 on "no matches", which is not a failure here

	output := strings.TrimSpace(out.String())
	if output == "" {
		return fmt.Sprintf("No matches found for '%s'", query)
	}

	rootAbs, _ := filepath.Abs(b.root)
	var filtered []string
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		rel, err := filepath.Rel(rootAbs, parts[0])
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if ok, _ := b.isPathAllowed(rel); ok {
			filtered = append(filtered, filepath.ToSlash(rel)+":"+parts[1])
		}
		if len(filtered) >= maxSearchResult {
			filtered = append(filtered, fmt.Sprintf("... (limited to %d results)", maxSearchResult))
			break
		}
	}
	if len(filtered) == 0 {
		return fmt.Sprintf("No accessible matches for '%s'", query)
	}
	return fmt.Sprintf("Search results for '%s':\n%s", query, strings.Join(filtered, "\n"))
}

func (b *sourceBrowser) listFiles(path string) string {
	if ok, reason := b.isPathAllowed(path); !ok {
		return "Error: " + reason
	}
	abs := filepath.Join(b.root, path)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Sprintf("Error: path '%s' does not exist", path)
	}
	if !info.IsDir() {
		return fmt.Sprintf("File: %s (%d bytes)", path, info.Size())
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return "Error: permission denied"
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var lines []string
	for _, e := range entries {
		rel := filepath.ToSlash(filepath.Join(path, e.Name()))
		if ok, _ := b.isPathAllowed(rel); !ok {
			continue
		}
		if e.IsDir() {
			lines = append(lines, fmt.Sprintf("%s/", e.Name()))
			continue
		}
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		lines = append(lines, fmt.Sprintf("%s (%dB)", e.Name(), size))
	}
	if len(lines) == 0 {
		return fmt.Sprintf("Directory '%s' is empty or restricted", path)
	}
	return fmt.Sprintf("Contents of %s/:\n%s", path, strings.Join(lines, "\n"))
}

func (b *sourceBrowser) readFile(path string, startLine, endLine int) string {
	if ok, reason := b.isPathAllowed(path); !ok {
		return "Error: " + reason
	}
	abs := filepath.Join(b.root, path)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Sprintf("Error: file '%s' does not exist", path)
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: '%s' is a directory. Use list_files.", path)
	}

	ext := strings.ToLower(filepath.Ext(abs))
	base := filepath.Base(abs)
	if ext != "" && !allowedExtensions[ext] && base != "go.mod" && base != "go.sum" && base != "Makefile" && base != "Dockerfile" {
		return fmt.Sprintf("Error: file type '%s' not readable", ext)
	}
	if info.Size() > maxFileSize {
		return fmt.Sprintf("Error: file too large (%dKB > %dKB)", info.Size()/1024, maxFileSize/1024)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	allLines := strings.Split(string(data), "\n")
	total := len(allLines)

	var lines []string
	var lineInfo string
	if startLine > 0 || endLine > 0 {
		start := startLine - 1
		if start < 0 {
			start = 0
		}
		end := endLine
		if end <= 0 || end > total {
			end = total
		}
		if start > end {
			start = end
		}
		lines = allLines[start:end]
		lineInfo = fmt.Sprintf("Lines %d-%d of %d", start+1, end, total)
	} else if total > maxReadLines {
		lines = allLines[:maxReadLines]
		lineInfo = fmt.Sprintf("Lines 1-%d of %d (truncated)", maxReadLines, total)
	} else {
		lines = allLines
		lineInfo = fmt.Sprintf("%d lines", total)
	}

	return fmt.Sprintf("=== %s (%s) ===\n\n%s", path, lineInfo, strings.Join(lines, "\n"))
}
