package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/merge"
	"github.com/javanhut/brokkr/internal/workspace"
)

var resolveWith string

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Resolve a fuse conflict",
	Long: `Resolve settles a conflicted path and removes the .mine, .theirs and
.base side files the fuse left next to it.

Choices:
  mine    - Keep the current timeline's version
  theirs  - Take the fused timeline's version
  base    - Revert to the common ancestor
  current - Keep the working file as you edited it (default)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			paths, err := repoPaths(ws, args)
			if err != nil {
				return err
			}
			if err := ws.Resolve(ctx, paths[0], workspace.Choice(resolveWith)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s with %s\n", colors.Bold(paths[0]), resolveWith)
			return nil
		})
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveWith, "with", string(workspace.ChoiceCurrent), "Resolution (mine, theirs, base, current)")
}

// ConflictPrompt walks the user through the conflicts of a fuse, one path
// at a time.
type ConflictPrompt struct {
	ws     *workspace.Workspace
	reader *bufio.Reader
	out    io.Writer
}

// NewConflictPrompt creates a prompt reading answers from in.
func NewConflictPrompt(ws *workspace.Workspace, in io.Reader, out io.Writer) *ConflictPrompt {
	return &ConflictPrompt{ws: ws, reader: bufio.NewReader(in), out: out}
}

// ResolveAll asks about each conflict in turn. Skipped paths stay in
// conflict.
func (p *ConflictPrompt) ResolveAll(ctx context.Context, conflicts []merge.Conflict) error {
	for i, c := range conflicts {
		fmt.Fprintln(p.out)
		fmt.Fprintf(p.out, "%s Conflict %d/%d: %s %s\n", colors.Cyan(">>"), i+1, len(conflicts),
			colors.Bold(c.Path), colors.Gray("("+c.Classification+")"))

		choice, err := p.ask(c.Path)
		if err != nil {
			return err
		}
		if choice == "" {
			fmt.Fprintln(p.out, colors.Gray("Skipped"))
			continue
		}
		if err := p.ws.Resolve(ctx, c.Path, choice); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "Resolved %s with %s\n", c.Path, choice)
	}
	return nil
}

// ask shows the sides available for name and reads a choice. An empty
// choice means skip.
func (p *ConflictPrompt) ask(name string) (workspace.Choice, error) {
	has := func(suffix string) bool {
		_, err := os.Lstat(filepath.Join(p.ws.Root, filepath.FromSlash(name+suffix)))
		return err == nil
	}
	hasBase := has(".base")

	if has(".mine") {
		p.preview(colors.Green("--- MINE (current timeline) ---"), name+".mine")
	}
	if has(".theirs") {
		p.preview(colors.Blue("--- THEIRS (fused timeline) ---"), name+".theirs")
	}

	fmt.Fprintln(p.out, colors.Bold("Resolution options:"))
	fmt.Fprintf(p.out, "  %s - Keep MINE\n", colors.Green("[m]"))
	fmt.Fprintf(p.out, "  %s - Accept THEIRS\n", colors.Blue("[t]"))
	if hasBase {
		fmt.Fprintf(p.out, "  %s - Revert to BASE (common ancestor)\n", colors.Gray("[b]"))
	}
	fmt.Fprintf(p.out, "  %s - Keep the working file as edited\n", colors.Yellow("[c]"))
	fmt.Fprintf(p.out, "  %s - Skip this file\n", colors.Dim("[s]"))

	for {
		fmt.Fprint(p.out, colors.Cyan("Your choice> "))
		input, err := p.reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		switch strings.TrimSpace(strings.ToLower(input)) {
		case "m", "mine":
			return workspace.ChoiceMine, nil
		case "t", "theirs":
			return workspace.ChoiceTheirs, nil
		case "b", "base":
			if hasBase {
				return workspace.ChoiceBase, nil
			}
			fmt.Fprintln(p.out, colors.Red("Invalid choice: no base version available"))
		case "c", "current":
			return workspace.ChoiceCurrent, nil
		case "s", "skip":
			return "", nil
		default:
			fmt.Fprintln(p.out, colors.Red("Invalid choice"))
		}
	}
}

// preview prints the first lines of a side file.
func (p *ConflictPrompt) preview(header, name string) {
	data, err := os.ReadFile(filepath.Join(p.ws.Root, filepath.FromSlash(name)))
	if err != nil {
		return
	}
	fmt.Fprintln(p.out, header)
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i == 10 {
			fmt.Fprintln(p.out, colors.Gray(fmt.Sprintf("  ... %d more lines", len(lines)-10)))
			break
		}
		fmt.Fprintf(p.out, "  %s\n", line)
	}
	fmt.Fprintln(p.out)
}
