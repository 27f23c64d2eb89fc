package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/diffmerge"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/workspace"
)

var travelCmd = &cobra.Command{
	Use:   "travel <timeline|version>",
	Short: "Move the working copy to another timeline or seal",
	Long: `Travel rewrites the working copy to match a timeline tip or any sealed
version, given by full ID or unique prefix. The working copy must be clean.

Travelling to a seal that is not a timeline tip leaves the working copy on
that seal's timeline; sealing is refused there until you travel back to
the tip.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTravel(cmd, args[0])
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert [paths...]",
	Short: "Discard working copy changes",
	Long: `Revert restores modified, missing and deleted files to the current seal
and drops their gathered operations. Unversioned files are left alone.
Without paths the whole working copy is reverted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			paths, err := repoPaths(ws, args)
			if err != nil {
				return err
			}
			names, err := ws.Revert(ctx, paths)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, colors.Gray("Nothing to revert"))
				return nil
			}
			for _, name := range names {
				fmt.Fprintf(out, "Reverted %s\n", name)
			}
			return nil
		})
	},
}

func runTravel(cmd *cobra.Command, rev string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
		changes, err := ws.Travel(ctx, rev)
		if err != nil {
			return err
		}
		branch, id, err := ws.Current()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, c := range changes {
			fmt.Fprintln(out, colorChange(c))
		}
		added, modified, removed := diffmerge.Summary(changes)
		fmt.Fprintf(out, "Now on timeline %s at %s (%d added, %d modified, %d removed)\n",
			colors.Bold(branch), colors.Cyan(objects.ShortID(id)), added, modified, removed)
		return nil
	})
}

func colorChange(c diffmerge.FileChange) string {
	switch c.Type {
	case diffmerge.Added:
		return colors.ColorizeFileStatus("added", "A", c.Path)
	case diffmerge.Removed:
		return colors.ColorizeFileStatus("deleted", "D", c.Path)
	}
	return colors.ColorizeFileStatus("modified", "M", c.Path)
}
