package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"meeting-pipeline/internal/entity"
)

func optionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List configuration options with their values and defaults.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OPTION\tDEFAULT\tVALUES")
			for _, o := range entity.Options() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", o.Name, o.Default, strings.Join(o.Values, ", "))
			}
			return w.Flush()
		},
	}
}
