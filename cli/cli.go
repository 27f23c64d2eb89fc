package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/metrics"
	"github.com/javanhut/brokkr/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "brokkr",
	Short: "Brokkr is a Version Control System",
	Long: `Brokkr records a working copy as a history of versions, each stored as a
chain of alterations against a materialized snapshot, and merges branches
with recursive three-way merges.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showMetrics {
			printMetrics()
		}
	},
}

var initialCmd = &cobra.Command{
	Use:   "forge [path]",
	Short: "Initialize",
	Long:  "Initializes a new brokkr managed repository",
	Args:  cobra.MaximumNArgs(1),
	RunE:  forgeCommand,
}

var (
	verbose     bool
	showMetrics bool
	registry    = prometheus.NewRegistry()
	engine      = sync.OnceValue(func() *metrics.Metrics { return metrics.New(registry) })
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, colors.ErrorText("error:"), err)
		if workspace.IsDirty(err) {
			fmt.Fprintln(os.Stderr, colors.Gray("Seal or revert your changes first."))
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print engine counters when the command finishes")

	// Core commands
	rootCmd.AddCommand(initialCmd)
	rootCmd.AddCommand(configCmd)

	// Timeline management commands
	rootCmd.AddCommand(timelineCmd)
	timelineCmd.AddCommand(createTimelineCmd, switchTimelineCmd, listTimelineCmd)

	// File and commit management commands
	rootCmd.AddCommand(gatherCmd, discardCmd, unstageCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)

	// Navigation and merging
	rootCmd.AddCommand(travelCmd, revertCmd)
	rootCmd.AddCommand(fuseCmd, resolveCmd)
}

func forgeCommand(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	ws, err := workspace.Init(root, cfg.NewLogger(os.Stderr, verbose), engine())
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Printf("Initialized brokkr repository in %s\n", colors.Bold(ws.Root))
	fmt.Printf("On timeline %s\n", colors.Bold(workspace.DefaultBranch))
	return nil
}

// openWorkspace opens the repository containing the current directory.
func openWorkspace() (*workspace.Workspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	root, err := workspace.Find(cwd)
	if errors.Is(err, workspace.ErrNotRepository) {
		return nil, fmt.Errorf("not in a brokkr repository (no %s directory found)", config.MetaDir)
	}
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	colors.SetColorEnabled(colors.IsColorEnabled() && cfg.Color.UI)
	logger := cfg.NewLogger(os.Stderr, verbose)
	return workspace.Open(root, logger, engine())
}

// withWorkspace runs fn against the open workspace and closes it after.
func withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, ws *workspace.Workspace) error) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, ws)
}

func printMetrics() {
	families, err := registry.Gather()
	if err != nil {
		logrus.WithError(err).Warn("failed to gather metrics")
		return
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	fmt.Fprintln(os.Stderr, colors.SectionHeader("Counters:"))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			label := ""
			for _, lp := range m.GetLabel() {
				label += fmt.Sprintf("{%s=%s}", lp.GetName(), lp.GetValue())
			}
			value := fmt.Sprintf("%g", m.GetCounter().GetValue())
			fmt.Fprintf(os.Stderr, "  %s%s %s\n", mf.GetName(), label, colors.InfoText(value))
		}
	}
}
