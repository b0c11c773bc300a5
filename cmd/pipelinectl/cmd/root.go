package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:          "pipelinectl",
		Short:        "pipelinectl runs meeting recordings through the processing pipeline locally.",
		SilenceUsage: true,
	}
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// service logs would interleave with the rendered job log
		log.SetLevel(log.WarnLevel)
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show service logs")

	cmd.AddCommand(
		runCmd(),
		optionsCmd(),
	)
	return cmd
}
