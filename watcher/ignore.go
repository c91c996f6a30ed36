package watcher

import (
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreMatcher decides which relative paths inside a root are watched.
// Patterns use gitignore syntax; extensions are matched case-insensitively.
type IgnoreMatcher struct {
	matcher  *ignore.GitIgnore
	skipExts map[string]bool
}

// NewIgnoreMatcher compiles ignore patterns and a set of file extensions
// (with leading dot) that should never be indexed.
func NewIgnoreMatcher(patterns []string, skipExts []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	if len(patterns) > 0 {
		m.matcher = ignore.CompileIgnoreLines(patterns...)
	}
	if len(skipExts) > 0 {
		m.skipExts = make(map[string]bool, len(skipExts))
		for _, ext := range skipExts {
			m.skipExts[strings.ToLower(ext)] = true
		}
	}
	return m
}

// ShouldIgnore reports whether the relative path of a file is excluded.
func (m *IgnoreMatcher) ShouldIgnore(relPath string) bool {
	if m == nil {
		return false
	}
	if isHidden(relPath) {
		return true
	}
	if m.skipExts != nil && m.skipExts[strings.ToLower(filepath.Ext(relPath))] {
		return true
	}
	return m.matcher != nil && m.matcher.MatchesPath(relPath)
}

// ShouldSkipDir reports whether a directory subtree should not be descended.
func (m *IgnoreMatcher) ShouldSkipDir(relPath string) bool {
	if m == nil {
		return false
	}
	if isHidden(relPath) {
		return true
	}
	return m.matcher != nil && m.matcher.MatchesPath(relPath)
}

// isHidden reports whether any path component starts with a dot.
func isHidden(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
