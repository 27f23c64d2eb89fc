package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javanhut/brokkr/internal/colors"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/seals"
	"github.com/javanhut/brokkr/internal/workspace"
)

var sealCmd = &cobra.Command{
	Use:   "seal <message>",
	Short: "Record the working copy as a new version",
	Long: `Creates a sealed version on the current timeline from the working copy
and the gathered operations. A pending fuse is completed by sealing once
every conflict is resolved.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			res, err := ws.Commit(ctx, message)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[%s %s] %s\n",
				colors.Bold(res.Version.Branch), colors.Cyan(res.Version.Short()), message)
			fmt.Fprintf(out, " sealed as %s\n", colors.InfoText(seals.Name(res.Version.ID)))

			var added, changed, removed int
			for _, alt := range res.Alterations {
				switch alt.Type {
				case objects.AlterationAdd, objects.AlterationCopy:
					added++
				case objects.AlterationUpdate, objects.AlterationMove:
					changed++
				case objects.AlterationDelete:
					removed++
				}
			}
			fmt.Fprintf(out, " %s added, %s changed, %s removed\n",
				colors.Green(fmt.Sprint(added)), colors.Blue(fmt.Sprint(changed)), colors.Red(fmt.Sprint(removed)))
			if len(res.MergeInfos) > 0 {
				fmt.Fprintf(out, " fused %d version(s)\n", len(res.MergeInfos))
			}
			return nil
		})
	},
}
