// Package wsindex scans the working tree and indexes what it finds.
//
// The index tracks every entry below the workspace root with the metadata
// the status engine compares against versioned records:
// - Keys are canonical names (directories carry a trailing slash)
// - Values hold kind, size, modification time, mode and symlink target
// - Subdirectories are walked concurrently with a bounded number of readers
// - Paths matching ignore rules are reported separately and never descended
package wsindex

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/pool"
)

// Kind is the type of a working-tree entry.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDir
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	}
	return "unknown"
}

// Entry represents one file, directory or symlink in the working tree.
type Entry struct {
	Name       string      // Canonical name
	Kind       Kind        // Entry type
	Size       int64       // File size in bytes, 0 for directories and symlinks
	ModTime    time.Time   // Last modification time
	Mode       fs.FileMode // Permission bits
	LinkTarget string      // Symlink target, empty otherwise
}

// Path returns the absolute path of the entry below root.
func (e *Entry) Path(root string) string {
	return filepath.Join(root, filepath.FromSlash(e.Name))
}

// Attributes maps the filesystem metadata onto record attributes.
func (e *Entry) Attributes() objects.Attributes {
	var a objects.Attributes
	if e.Kind == KindSymlink {
		a |= objects.AttrSymlink
	}
	if e.Kind == KindFile && e.Mode&0o111 != 0 {
		a |= objects.AttrExecutable
	}
	if e.Kind == KindFile && e.Mode&0o222 == 0 {
		a |= objects.AttrReadOnly
	}
	if base := path.Base(strings.TrimSuffix(e.Name, "/")); len(base) > 1 && base[0] == '.' {
		a |= objects.AttrHidden
	}
	return a
}

// Index is the result of a scan.
type Index struct {
	Entries map[string]*Entry
	Ignored []string // Canonical names of ignored paths, sorted
}

// Names returns the indexed canonical names in lexical order.
func (ix *Index) Names() []string {
	names := make([]string, 0, len(ix.Entries))
	for n := range ix.Entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	return len(ix.Entries)
}

// Scanner walks a working tree.
type Scanner struct {
	Root    string
	MetaDir string // Top-level directory name that is never scanned
	Ignore  *Ignore
	Workers int
	Logger  logrus.FieldLogger

	tracked map[string]bool
}

// NewScanner creates a Scanner for root. A nil ignore matches nothing.
func NewScanner(root, metaDir string, ignore *Ignore, workers int, logger logrus.FieldLogger) *Scanner {
	if ignore == nil {
		ignore = &Ignore{}
	}
	if logger == nil {
		logger = config.DiscardLogger()
	}
	return &Scanner{
		Root:    root,
		MetaDir: metaDir,
		Ignore:  ignore,
		Workers: pool.Workers(workers),
		Logger:  logger,
	}
}

// Track marks versioned names, and the directories holding them, as exempt
// from ignore rules.
func (s *Scanner) Track(names []string) {
	if s.tracked == nil {
		s.tracked = make(map[string]bool, len(names))
	}
	for _, name := range names {
		for n := name; n != ""; n = objects.ParentDir(n) {
			if s.tracked[n] {
				break
			}
			s.tracked[n] = true
		}
	}
}

type collector struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ignored []string
}

func (c *collector) add(e *Entry) {
	c.mu.Lock()
	c.entries[e.Name] = e
	c.mu.Unlock()
}

func (c *collector) skip(name string) {
	c.mu.Lock()
	c.ignored = append(c.ignored, name)
	c.mu.Unlock()
}

// Scan walks the working tree and returns its index. Each directory is read
// by its own task; when every worker is busy the directory is read inline
// by the task that discovered it.
func (s *Scanner) Scan(ctx context.Context) (*Index, error) {
	info, err := os.Stat(s.Root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", s.Root)
	}

	c := &collector{entries: make(map[string]*Entry)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers)

	var walk func(rel string) error
	walk = func(rel string) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		dirents, err := os.ReadDir(filepath.Join(s.Root, filepath.FromSlash(rel)))
		if err != nil {
			if os.IsPermission(err) {
				s.Logger.WithField("path", rel).Warn("Skipping unreadable directory")
				return nil
			}
			return fmt.Errorf("read directory %q: %w", rel, err)
		}
		for _, d := range dirents {
			childRel := d.Name()
			if rel != "" {
				childRel = rel + "/" + d.Name()
			}
			if rel == "" && d.Name() == s.MetaDir {
				continue
			}

			e, err := s.entry(childRel, d)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return err
			}
			if !s.tracked[e.Name] && s.Ignore.Match(e.Name, e.Kind == KindDir) {
				c.skip(e.Name)
				continue
			}
			c.add(e)

			if e.Kind == KindDir {
				sub := childRel
				if !g.TryGo(func() error { return walk(sub) }) {
					if err := walk(sub); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	g.Go(func() error { return walk("") })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(c.ignored)
	s.Logger.WithFields(logrus.Fields{
		"count":   len(c.entries),
		"ignored": len(c.ignored),
	}).Debug("Scanned working tree")
	return &Index{Entries: c.entries, Ignored: c.ignored}, nil
}

func (s *Scanner) entry(rel string, d fs.DirEntry) (*Entry, error) {
	info, err := d.Info()
	if err != nil {
		return nil, err
	}
	e := &Entry{ModTime: info.ModTime(), Mode: info.Mode().Perm()}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(filepath.Join(s.Root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read link %q: %w", rel, err)
		}
		e.Kind = KindSymlink
		e.LinkTarget = filepath.ToSlash(target)
		e.Name = objects.CanonicalName(rel, false)
	case info.IsDir():
		e.Kind = KindDir
		e.Name = objects.CanonicalName(rel, true)
	default:
		e.Kind = KindFile
		e.Size = info.Size()
		e.Name = objects.CanonicalName(rel, false)
	}
	return e, nil
}

// Stat indexes a single path below root, or returns nil when it does not
// exist.
func (s *Scanner) Stat(name string) (*Entry, error) {
	rel := strings.TrimSuffix(name, "/")
	p := filepath.Join(s.Root, filepath.FromSlash(rel))
	info, err := os.Lstat(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.entry(rel, fs.FileInfoToDirEntry(info))
}
