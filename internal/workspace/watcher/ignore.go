package watcher

import (
	"path/filepath"
	"strings"
	"sync"
)

// DefaultIgnorePatterns skip editor droppings and the files CVS itself
// writes next to working files during merges.
var DefaultIgnorePatterns = []string{
	".git/",
	".svn/",
	"node_modules/",
	"*.swp",
	"*.swo",
	"*~",
	".#*",
	"#*#",
	".DS_Store",
}

// IgnorePatterns matches paths against glob rules.
//
// A rule without a slash matches any single path component. A rule ending
// in "/" only matches directories, which also excludes everything below
// them. A rule containing a slash matches any run of consecutive
// components, and a leading "**/" is accepted for readability. A leading "!" re-includes
// a path excluded by an earlier rule.
type IgnorePatterns struct {
	mu       sync.RWMutex
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern  string
	negation bool
	dirOnly  bool
}

// NewIgnorePatterns creates a matcher with the given rules.
func NewIgnorePatterns(patterns ...string) *IgnorePatterns {
	ip := &IgnorePatterns{}
	ip.Add(patterns...)
	return ip
}

// Add appends rules. Blank lines and "#" comments are skipped.
func (ip *IgnorePatterns) Add(patterns ...string) {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasSuffix(pattern, "#")) {
			continue
		}
		p := ignorePattern{}
		if strings.HasPrefix(pattern, "!") {
			p.negation = true
			pattern = pattern[1:]
		}
		pattern = strings.TrimPrefix(pattern, "**/")
		pattern = strings.TrimPrefix(pattern, "/")
		if strings.HasSuffix(pattern, "/") {
			p.dirOnly = true
			pattern = strings.TrimSuffix(pattern, "/")
		}
		if pattern == "" {
			continue
		}
		p.pattern = pattern
		ip.patterns = append(ip.patterns, p)
	}
}

// Count returns the number of rules.
func (ip *IgnorePatterns) Count() int {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return len(ip.patterns)
}

// Match reports whether path is ignored. isDir describes the final
// component; every earlier component is a directory.
func (ip *IgnorePatterns) Match(path string, isDir bool) bool {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	parts := strings.Split(strings.Trim(filepath.ToSlash(path), "/"), "/")
	ignored := false
	for _, p := range ip.patterns {
		if p.matches(parts, isDir) {
			ignored = !p.negation
		}
	}
	return ignored
}

func (p ignorePattern) matches(parts []string, isDir bool) bool {
	if strings.Contains(p.pattern, "/") {
		segs := strings.Split(p.pattern, "/")
		for end := len(segs); end <= len(parts); end++ {
			if p.dirOnly && end == len(parts) && !isDir {
				continue
			}
			if globAll(segs, parts[end-len(segs):end]) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		last := i == len(parts)-1
		if p.dirOnly && last && !isDir {
			continue
		}
		if ok, _ := filepath.Match(p.pattern, part); ok {
			return true
		}
	}
	return false
}

func globAll(patterns, names []string) bool {
	for i := range patterns {
		if ok, _ := filepath.Match(patterns[i], names[i]); !ok {
			return false
		}
	}
	return true
}
