package wsindex

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// ErrInvalidPattern indicates an ignore pattern could not be compiled.
var ErrInvalidPattern = errors.New("invalid ignore pattern")

type rule struct {
	pattern  string
	matcher  glob.Glob
	dirOnly  bool // Pattern ended with "/"
	anchored bool // Pattern contained "/" and matches the full name
	negate   bool // Pattern started with "!"
}

// Ignore holds compiled ignore rules. Later rules override earlier ones, and
// a rule prefixed with "!" re-includes what an earlier rule excluded.
type Ignore struct {
	rules []rule
}

// NewIgnore compiles patterns. Blank lines and lines starting with "#" are
// skipped.
func NewIgnore(patterns []string) (*Ignore, error) {
	ig := &Ignore{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		r := rule{pattern: p}
		if strings.HasPrefix(p, "!") {
			r.negate = true
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			r.dirOnly = true
			p = strings.TrimSuffix(p, "/")
		}
		if strings.Contains(p, "/") {
			r.anchored = true
			p = strings.TrimPrefix(p, "/")
		}
		m, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, fmt.Errorf("%q: %w", r.pattern, err))
		}
		r.matcher = m
		ig.rules = append(ig.rules, r)
	}
	return ig, nil
}

// LoadIgnore reads patterns from file, one per line. A missing file yields
// an empty rule set.
func LoadIgnore(file string) (*Ignore, error) {
	f, err := os.Open(file)
	if os.IsNotExist(err) {
		return &Ignore{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewIgnore(patterns)
}

// Len returns the number of compiled rules.
func (ig *Ignore) Len() int {
	return len(ig.rules)
}

// Match reports whether the canonical name is ignored. Unanchored patterns
// match the last path element, anchored ones the whole name.
func (ig *Ignore) Match(name string, dir bool) bool {
	name = strings.TrimSuffix(name, "/")
	base := path.Base(name)
	ignored := false
	for _, r := range ig.rules {
		if r.dirOnly && !dir {
			continue
		}
		subject := base
		if r.anchored {
			subject = name
		}
		if r.matcher.Match(subject) {
			ignored = !r.negate
		}
	}
	return ignored
}
