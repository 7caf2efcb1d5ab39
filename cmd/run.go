package cmd

import (
	"github.com/encodeous/weft/core"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the schedule controller",
	Long:  `This will run the controller on the current host. It needs to reach the motes over CoAP and the root mote over its serial bridge.`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		err := core.Bootstrap(cfgPath, logPath, verbose)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "weft",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().StringP("log", "l", "", "Also write logs to this file")
}
