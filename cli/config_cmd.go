package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/workspace"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get and set configuration options",
	Long: `Get and set brokkr configuration options.

Configuration can be set at two levels:
- Global (~/.brokkrconfig) - applies to all repositories
- Repository (.brokkr/config) - applies to current repository only

Examples:
  brokkr config user.name "Your Name"
  brokkr config user.email "you@example.com"
  brokkr config --global user.name "Your Name"
  brokkr config core.merge_strategy theirs
  brokkr config --list
  brokkr config user.name`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

var (
	configGlobal bool
	configList   bool
)

func init() {
	configCmd.Flags().BoolVar(&configGlobal, "global", false, "Use global config file")
	configCmd.Flags().BoolVar(&configList, "list", false, "List all configuration")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if configList {
		cfg, err := config.Load(repoRoot())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return listConfig(out, cfg)
	}

	switch len(args) {
	case 1:
		cfg, err := config.Load(repoRoot())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		value, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		if value == "" {
			fmt.Fprintf(out, "%s is %s\n", args[0], colors.Gray("(not set)"))
		} else {
			fmt.Fprintln(out, value)
		}
		return nil
	case 2:
		return setConfigValue(out, args[0], args[1], configGlobal)
	}
	return fmt.Errorf("invalid usage. See: brokkr config --help")
}

func listConfig(out io.Writer, cfg *config.Config) error {
	section := ""
	for _, key := range config.Keys {
		value, err := cfg.Get(key)
		if err != nil {
			return err
		}
		if s, _, _ := strings.Cut(key, "."); s != section {
			if section != "" {
				fmt.Fprintln(out)
			}
			section = s
			fmt.Fprintln(out, colors.SectionHeader(section+":"))
		}
		if value == "" {
			fmt.Fprintf(out, "  %s = %s\n", key, colors.Gray("(not set)"))
		} else {
			fmt.Fprintf(out, "  %s = %s\n", key, colors.InfoText(value))
		}
	}
	return nil
}

func setConfigValue(out io.Writer, key, value string, global bool) error {
	scope := "repository"
	var path string
	if global {
		scope = "global"
		p, err := config.GlobalConfigPath()
		if err != nil {
			return err
		}
		path = p
	} else {
		root := repoRoot()
		if root == "" {
			return fmt.Errorf("not in a brokkr repository; use --global to set %s", key)
		}
		path = config.RepoConfigPath(root)
	}
	if err := config.SetInFile(path, key, value); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s config: %s = %s\n",
		colors.SuccessText("Set"),
		scope,
		colors.Bold(key),
		colors.InfoText(value))

	// Show hint if setting user config for the first time
	if key == "user.name" || key == "user.email" {
		cfg, err := config.Load(repoRoot())
		if err == nil && (cfg.User.Name == "" || cfg.User.Email == "") {
			fmt.Fprintln(out)
			fmt.Fprintln(out, colors.Dim("Hint: Make sure to also set:"))
			if cfg.User.Name == "" {
				fmt.Fprintf(out, "  %s\n", colors.InfoText("brokkr config user.name \"Your Name\""))
			}
			if cfg.User.Email == "" {
				fmt.Fprintf(out, "  %s\n", colors.InfoText("brokkr config user.email \"you@example.com\""))
			}
		}
	}
	return nil
}

// repoRoot returns the repository around the current directory, or "" when
// there is none.
func repoRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	root, err := workspace.Find(cwd)
	if err != nil {
		return ""
	}
	return root
}
