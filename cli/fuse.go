package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/diffmerge"
	"github.com/javanhut/brokkr/internal/merge"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/workspace"
)

var fuseCmd = &cobra.Command{
	Use:   "fuse <timeline|version>",
	Short: "Merge another timeline into the working copy",
	Long: `Fuse (merge) changes from a timeline or version into the current timeline.

The working copy must be clean. When the current timeline has not moved
since the fork the fuse fast-forwards. Otherwise the merged result is left
in the working copy and sealing it completes the fuse.

Examples:
  brokkr fuse feature                       # Fuse feature into current timeline
  brokkr fuse --strategy=theirs feature     # Take their side of every conflict
  brokkr fuse --strategy=ours feature       # Keep our side of every conflict
  brokkr fuse --interactive feature         # Decide each conflict at the prompt
  brokkr fuse --abort                       # Abort current merge

Strategies:
  conflict - Leave conflicts for "brokkr resolve" (default)
  ours     - Keep the current timeline's version
  theirs   - Accept the fused timeline's version`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFuse,
}

var (
	fuseAbort       bool
	fuseStrategy    string
	fuseInteractive bool
)

func init() {
	fuseCmd.Flags().BoolVar(&fuseAbort, "abort", false, "Abort current merge")
	fuseCmd.Flags().StringVar(&fuseStrategy, "strategy", "", "Merge strategy (conflict, ours, theirs); defaults to core.merge_strategy")
	fuseCmd.Flags().BoolVarP(&fuseInteractive, "interactive", "i", false, "Resolve conflicts at the prompt")
}

func runFuse(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
		out := cmd.OutOrStdout()
		if fuseAbort {
			if err := ws.AbortMerge(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, colors.SuccessText("Fuse aborted, working copy restored"))
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("source timeline required. Use: brokkr fuse <timeline>")
		}
		source := args[0]

		var resolver diffmerge.Resolver
		if fuseStrategy != "" {
			var err error
			if resolver, err = diffmerge.NewStrategyResolver(diffmerge.StrategyType(fuseStrategy)); err != nil {
				return err
			}
		}

		branch, _, err := ws.Current()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Fusing %s into %s...\n", colors.Cyan(">>"), colors.Bold(source), colors.Bold(branch))

		res, err := ws.Merge(ctx, source, resolver)
		if err != nil {
			return err
		}
		reportFuse(out, res)

		if len(res.Conflicts) > 0 && fuseInteractive {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("--interactive needs a terminal on stdin")
			}
			prompt := NewConflictPrompt(ws, os.Stdin, out)
			return prompt.ResolveAll(ctx, res.Conflicts)
		}
		return nil
	})
}

func reportFuse(out io.Writer, res *merge.Result) {
	switch res.Kind {
	case merge.UpToDate:
		fmt.Fprintln(out, colors.SuccessText("Already up to date"))
		return
	case merge.FastForward:
		fmt.Fprintf(out, "Fast-forward to %s\n", colors.Cyan(objects.ShortID(res.Foreign)))
	default:
		fmt.Fprintf(out, "Merged %s with %s (%s)\n",
			colors.Cyan(objects.ShortID(res.Foreign)), colors.Cyan(objects.ShortID(res.Local)), res.Kind)
	}
	for _, w := range res.Writes {
		fmt.Fprintln(out, colors.ColorizeFileStatus("modified", "M", w.Name))
	}
	for _, name := range res.Removes {
		fmt.Fprintln(out, colors.ColorizeFileStatus("deleted", "D", name))
	}
	if res.Kind == merge.FastForward {
		return
	}

	if len(res.Conflicts) == 0 {
		fmt.Fprintln(out, colors.SuccessText("Fuse staged without conflicts."))
		fmt.Fprintln(out, colors.Gray("Seal to complete the fuse."))
		return
	}
	fmt.Fprintf(out, "\n%s %d conflict(s):\n", colors.Yellow("[CONFLICT]"), len(res.Conflicts))
	for _, c := range res.Conflicts {
		fmt.Fprintf(out, "  %s %s\n", colors.ColorizeFileStatus("conflict", "U", c.Path), colors.Gray("("+c.Classification+")"))
	}
	fmt.Fprintln(out, colors.Gray("Resolve with \"brokkr resolve <path> --with mine|theirs|base|current\", then seal."))
}
