package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/brokkr/internal/colors"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestCommandsEndToEnd(t *testing.T) {
	colors.SetColorEnabled(false)
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	chdir(t, dir)

	_, err := run(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a brokkr repository")

	assert.Contains(t, mustRun(t, "forge"), "Initialized brokkr repository")
	mustRun(t, "config", "user.name", "Test User")
	mustRun(t, "config", "user.email", "test@example.com")
	assert.Equal(t, "Test User\n", mustRun(t, "config", "user.name"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0644))
	out := mustRun(t, "status")
	assert.Contains(t, out, "Unversioned files:")
	assert.Contains(t, out, "a.txt")

	assert.Contains(t, mustRun(t, "gather", "a.txt"), "A  a.txt")
	assert.Contains(t, mustRun(t, "seal", "first"), "1 added")
	assert.Contains(t, mustRun(t, "status"), "Working directory clean")

	out = mustRun(t, "timeline", "create", "feature", "--switch")
	assert.Contains(t, out, "Switched to timeline feature")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two\n"), 0644))
	assert.Contains(t, mustRun(t, "seal", "second"), "1 changed")

	mustRun(t, "travel", "main")
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(data))

	assert.Contains(t, mustRun(t, "fuse", "feature"), "Fast-forward")
	data, err = os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))

	out = mustRun(t, "log", "--oneline")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "first")

	out = mustRun(t, "timeline", "list")
	assert.Contains(t, out, "* main")
	assert.Contains(t, out, "feature")
}

func TestRepoPathsRejectsOutsidePaths(t *testing.T) {
	colors.SetColorEnabled(false)
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	chdir(t, dir)
	mustRun(t, "forge")

	ws, err := openWorkspace()
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	chdir(t, filepath.Join(dir, "src"))
	paths, err := repoPaths(ws, []string{"main.go", "."})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.go", "src"}, paths)

	_, err = repoPaths(ws, []string{"../../elsewhere"})
	assert.Error(t, err)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	require.NoError(t, os.Chdir(abs))
	t.Setenv("PWD", abs)
	t.Cleanup(func() {
		if err := os.Chdir(oldwd); err != nil {
			t.Fatalf("restoring working directory: %v", err)
		}
	})
}
