package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/history"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/seals"
	"github.com/javanhut/brokkr/internal/workspace"
)

var logCmd = &cobra.Command{
	Use:   "log [revision]",
	Short: "Show seal history",
	Long: `Display the seal history of the working copy, or of a timeline or version.

Examples:
  brokkr log                  # Show all seals
  brokkr log --oneline        # Show concise one-line format
  brokkr log --limit 10       # Show only last 10 seals
  brokkr log feature          # Show the history of another timeline`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLog,
}

var (
	logOneline bool
	logLimit   int
)

func init() {
	logCmd.Flags().BoolVar(&logOneline, "oneline", false, "Show one line per seal")
	logCmd.Flags().IntVar(&logLimit, "limit", 0, "Limit number of seals to show")
}

func runLog(cmd *cobra.Command, args []string) error {
	rev := ""
	if len(args) == 1 {
		rev = args[0]
	}
	return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
		entries, err := ws.Log(ctx, rev, logLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No seals yet.")
			return nil
		}
		if logOneline {
			displayLogOneline(out, entries)
		} else {
			displayLogFull(out, entries)
		}
		return nil
	})
}

func displayLogFull(out io.Writer, entries []history.Entry) {
	for i, e := range entries {
		v := e.Version
		fmt.Fprintf(out, "%s %s\n", colors.Cyan("seal"), colors.Bold(seals.Name(v.ID)))
		fmt.Fprintf(out, "ID:     %s\n", v.ID)
		if len(e.MergeSources) > 0 {
			sources := make([]string, len(e.MergeSources))
			for j, id := range e.MergeSources {
				sources[j] = objects.ShortID(id)
			}
			fmt.Fprintf(out, "Fused:  %s\n", strings.Join(sources, " "))
		}
		fmt.Fprintf(out, "Author: %s\n", colors.InfoText(v.Author))
		fmt.Fprintf(out, "Date:   %s (%s)\n",
			v.Timestamp.Format("Mon Jan 2 15:04:05 2006"),
			colors.Gray(getRelativeTime(v.Timestamp)))
		fmt.Fprintf(out, "Timeline: %s\n", colors.InfoText(v.Branch))
		fmt.Fprintf(out, "\n    %s\n", v.Message)

		if i < len(entries)-1 {
			fmt.Fprintln(out)
		}
	}
}

func displayLogOneline(out io.Writer, entries []history.Entry) {
	for _, e := range entries {
		message, _, _ := strings.Cut(e.Version.Message, "\n")
		if len(message) > 60 {
			message = message[:57] + "..."
		}
		fmt.Fprintf(out, "%s %s\n", colors.Cyan(e.Version.Short()), message)
	}
}

// getRelativeTime returns a human-readable relative time string
func getRelativeTime(t time.Time) string {
	diff := time.Since(t)

	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	case diff < 30*24*time.Hour:
		return plural(int(diff.Hours()/24/7), "week")
	case diff < 365*24*time.Hour:
		return plural(int(diff.Hours()/24/30), "month")
	}
	return plural(int(diff.Hours()/24/365), "year")
}
