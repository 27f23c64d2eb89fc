package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/status"
	"github.com/javanhut/brokkr/internal/workspace"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the working directory status",
	Long:  `Shows files that are gathered, modified, missing, renamed, in conflict or unversioned`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			return runStatus(ctx, cmd.OutOrStdout(), ws)
		})
	},
}

var gatherCmd = &cobra.Command{
	Use:   "gather [paths...]",
	Short: "Stage files for the next seal",
	Long: `Gather records unversioned files as additions, missing files as
deletions and detected renames, so the next seal picks them up. Without
paths everything in the working copy is gathered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			paths, err := repoPaths(ws, args)
			if err != nil {
				return err
			}
			ops, err := ws.Gather(ctx, paths)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ops) == 0 {
				fmt.Fprintln(out, colors.Gray("Nothing to gather"))
				return nil
			}
			for _, op := range ops {
				fmt.Fprintln(out, describeOp(op))
			}
			return nil
		})
	},
}

var (
	discardKeep bool
)

var discardCmd = &cobra.Command{
	Use:   "discard <paths...>",
	Short: "Stop versioning files",
	Long: `Discard stages the removal of versioned files. The working files are
deleted too unless --keep is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			paths, err := repoPaths(ws, args)
			if err != nil {
				return err
			}
			names, err := ws.Discard(ctx, paths, !discardKeep)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), colors.ColorizeFileStatus("deleted", "D", name))
			}
			return nil
		})
	},
}

var unstageCmd = &cobra.Command{
	Use:   "unstage [paths...]",
	Short: "Drop staged operations",
	Long:  `Unstage forgets gathered additions, removals and renames. Merge state is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			paths, err := repoPaths(ws, args)
			if err != nil {
				return err
			}
			keys, err := ws.Unstage(paths)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unstaged %d operation(s)\n", len(keys))
			return nil
		})
	},
}

func init() {
	discardCmd.Flags().BoolVar(&discardKeep, "keep", false, "Keep the working files")
}

func runStatus(ctx context.Context, out io.Writer, ws *workspace.Workspace) error {
	branch, current, err := ws.Current()
	if err != nil {
		return err
	}
	st, err := ws.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get file statuses: %w", err)
	}
	staged, err := ws.Stage()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "On timeline %s", colors.Bold(branch))
	if current == objects.NoVersion {
		fmt.Fprintf(out, " %s\n", colors.Gray("(no seals yet)"))
	} else {
		fmt.Fprintf(out, " at %s\n", colors.InfoText(objects.ShortID(current)))
	}
	for _, v := range staged.MergeVersions() {
		fmt.Fprintf(out, "Fusing %s\n", colors.InfoText(objects.ShortID(v)))
	}

	var conflicts, changes, untracked []*status.Entry
	for _, e := range st.Entries {
		switch e.Code {
		case status.Conflict:
			conflicts = append(conflicts, e)
		case status.Unversioned:
			untracked = append(untracked, e)
		case status.Unchanged, status.Ignored:
		default:
			changes = append(changes, e)
		}
	}

	if len(conflicts)+len(changes)+len(untracked) == 0 {
		fmt.Fprintln(out, colors.SuccessText("Working directory clean"))
		return nil
	}
	if len(conflicts) > 0 {
		fmt.Fprintf(out, "\n%s\n", colors.SectionHeader("Unresolved conflicts:"))
		fmt.Fprintln(out, colors.Gray("  (use \"brokkr resolve <path> --with mine|theirs|base|current\")"))
		for _, e := range conflicts {
			line := colors.ColorizeFileStatus(e.Code.String(), e.Code.Short(), e.Name)
			if e.Reason != "" {
				line += colors.Gray(" (" + e.Reason + ")")
			}
			fmt.Fprintln(out, line)
		}
	}
	if len(changes) > 0 {
		fmt.Fprintf(out, "\n%s\n", colors.SectionHeader("Changes to be sealed:"))
		for _, e := range changes {
			name := e.Name
			if e.Source != nil {
				name = e.Source.CanonicalName + " -> " + e.Name
			}
			fmt.Fprintln(out, colors.ColorizeFileStatus(e.Code.String(), e.Code.Short(), name))
		}
	}
	if len(untracked) > 0 {
		fmt.Fprintf(out, "\n%s\n", colors.SectionHeader("Unversioned files:"))
		fmt.Fprintln(out, colors.Gray("  (use \"brokkr gather <file>...\" to include in what will be sealed)"))
		for _, e := range untracked {
			fmt.Fprintln(out, colors.ColorizeFileStatus(e.Code.String(), e.Code.Short(), e.Name))
		}
	}
	return nil
}

func describeOp(op *objects.StageOp) string {
	switch op.Kind {
	case objects.StageAdd:
		return colors.ColorizeFileStatus("added", "A", op.Name)
	case objects.StageRemove:
		return colors.ColorizeFileStatus("deleted", "D", op.Name)
	case objects.StageRename:
		return colors.ColorizeFileStatus("renamed", "R", op.Source+" -> "+op.Name)
	}
	return fmt.Sprintf("  %s  %s", op.Kind, op.Name)
}

// repoPaths turns arguments given relative to the current directory into
// names relative to the workspace root.
func repoPaths(ws *workspace.Workspace, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	// Compare with symlinks resolved on both sides.
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
		cwd = resolved
	}
	root := ws.Root
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	out := make([]string, 0, len(args))
	for _, arg := range args {
		p := arg
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%s is outside the repository at %s", arg, ws.Root)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}
