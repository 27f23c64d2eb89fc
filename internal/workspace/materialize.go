package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/javanhut/brokkr/internal/cas"
	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/diffmerge"
	"github.com/javanhut/brokkr/internal/merge"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/pool"
)

// Materializer writes records and merge output into the working directory.
type Materializer struct {
	Content *cas.Content
	WorkDir string
	Workers int
	Logger  logrus.FieldLogger
}

// NewMaterializer creates a Materializer for workDir.
func NewMaterializer(content *cas.Content, workDir string, workers int, logger logrus.FieldLogger) *Materializer {
	if logger == nil {
		logger = config.DiscardLogger()
	}
	return &Materializer{
		Content: content,
		WorkDir: workDir,
		Workers: pool.Workers(workers),
		Logger:  logger,
	}
}

func (m *Materializer) path(name string) string {
	return filepath.Join(m.WorkDir, filepath.FromSlash(strings.TrimSuffix(name, "/")))
}

// ApplyChanges turns the working directory from one record set into another.
// Removals run first, deepest paths first; writes then run in parallel with
// directories created before the files inside them. Every failure is
// reported.
func (m *Materializer) ApplyChanges(ctx context.Context, changes []diffmerge.FileChange) error {
	var writes []*merge.Write
	var removes []string
	for _, c := range changes {
		if c.Type == diffmerge.Removed {
			removes = append(removes, c.Path)
			continue
		}
		writes = append(writes, &merge.Write{Name: c.Path, Record: c.New})
	}
	if err := m.Remove(removes); err != nil {
		return err
	}
	return m.Write(ctx, writes)
}

// Write applies writes. Directory records are created up front so parallel
// file writes never race on their parents.
func (m *Materializer) Write(ctx context.Context, writes []*merge.Write) error {
	var files []*merge.Write
	for _, w := range writes {
		if w.Record != nil && w.Record.IsDir() && w.Data == nil {
			if err := os.MkdirAll(m.path(w.Name), 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", w.Name, err)
			}
			continue
		}
		files = append(files, w)
	}

	return pool.All(ctx, m.Workers, files, func(ctx context.Context, w *merge.Write) error {
		dest := m.path(w.Name)
		if w.Data == nil {
			if err := m.Content.Restore(ctx, w.Record, dest); err != nil {
				return fmt.Errorf("restore %s: %w", w.Name, err)
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", w.Name, err)
			}
			if err := cas.WriteFile(dest, w.Data, w.Record); err != nil {
				return err
			}
		}
		m.Logger.WithField("path", w.Name).Debug("wrote file")
		return nil
	})
}

// Remove deletes names from the working directory. Directories are only
// removed once empty. Parents left empty are removed as well.
func (m *Materializer) Remove(names []string) error {
	for _, name := range names {
		full := m.path(name)
		if strings.HasSuffix(name, "/") {
			m.removeEmptyDirectories(full)
			continue
		}
		err := os.Remove(full)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove file %s: %w", name, err)
		}
		m.removeEmptyDirectories(filepath.Dir(full))
	}
	return nil
}

// RemoveSideFiles deletes the conflict side files left next to name.
func (m *Materializer) RemoveSideFiles(name string) {
	for _, suffix := range sideSuffixes {
		err := os.Remove(m.path(name + suffix))
		if err != nil && !os.IsNotExist(err) {
			m.Logger.WithError(err).WithField("path", name+suffix).Warn("failed to remove conflict side file")
		}
	}
}

// removeEmptyDirectories removes empty directories up the tree.
func (m *Materializer) removeEmptyDirectories(dir string) {
	// Don't remove the working directory itself
	if dir == m.WorkDir || dir == "." || !strings.HasPrefix(dir, m.WorkDir) {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		return
	}

	parent := filepath.Dir(dir)
	if parent != dir {
		m.removeEmptyDirectories(parent)
	}
}

// sideSuffixes name the files a failed content merge leaves next to a path.
var sideSuffixes = []string{".mine", ".theirs", ".base"}

// Restore writes rec to name, or removes name when rec is nil.
func (m *Materializer) Restore(ctx context.Context, name string, rec *objects.Record) error {
	if rec == nil {
		return m.Remove([]string{name})
	}
	return m.Write(ctx, []*merge.Write{{Name: name, Record: rec}})
}
