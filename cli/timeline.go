package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/workspace"
)

var timelineCmd = &cobra.Command{
	Use:     "timeline",
	Aliases: []string{"tl"},
	Short:   "Manage brokkr timelines",
	Long:    `Create, list and switch timelines`,
}

var timelineSwitch bool

var createTimelineCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new timeline at the current version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			from, _, err := ws.Current()
			if err != nil {
				return err
			}
			if err := ws.CreateBranch(name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created timeline %s from %s\n", colors.Bold(name), colors.Bold(from))
			if !timelineSwitch {
				return nil
			}
			if _, err := ws.Travel(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to timeline %s\n", colors.Bold(name))
			return nil
		})
	},
}

var switchTimelineCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Switch the working copy to another timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTravel(cmd, args[0])
	},
}

var listTimelineCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all timelines",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			current, _, err := ws.Current()
			if err != nil {
				return err
			}
			branches, err := ws.Branches()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(branches) == 0 {
				fmt.Fprintf(out, "* %s\t%s\n", colors.Bold(current), colors.Gray("(no seals yet)"))
				return nil
			}

			names := make([]string, 0, len(branches))
			for name := range branches {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				marker, label := "  ", name
				if name == current {
					marker, label = "* ", colors.Bold(name)
				}
				heads := make([]string, len(branches[name]))
				for i, id := range branches[name] {
					heads[i] = objects.ShortID(id)
				}
				fmt.Fprintf(out, "%s%s\t%s\n", marker, label, colors.Cyan(strings.Join(heads, " ")))
			}
			return nil
		})
	},
}

func init() {
	createTimelineCmd.Flags().BoolVarP(&timelineSwitch, "switch", "s", false, "Switch to the new timeline")
}
