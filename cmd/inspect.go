package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/encodeous/weft/core"
	"github.com/spf13/cobra"
)

func ctlRun(command string) {
	result, err := core.CtlRequest(ctlSocket(), command)
	if err != nil {
		fmt.Println("Error:", err.Error())
		os.Exit(1)
	}
	fmt.Print(result)
	if strings.HasPrefix(result, "error:") {
		os.Exit(1)
	}
}

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Aliases: []string{"i"},
	Short:   "Inspects the current state of the controller",
	Run: func(cmd *cobra.Command, args []string) {
		ctlRun("inspect")
	},
	GroupID: "ctl",
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Prints the current schedule table",
	Run: func(cmd *cobra.Command, args []string) {
		ctlRun("schedule")
	},
	GroupID: "ctl",
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recomputes and redistributes the schedule after the backoff",
	Run: func(cmd *cobra.Command, args []string) {
		ctlRun("recompute")
	},
	GroupID: "ctl",
}

var reportCmd = &cobra.Command{
	Use:   "report <node> [parents...]",
	Short: "Submits a parent report on behalf of a node",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctlRun("report " + strings.Join(args, " "))
	},
	GroupID: "ctl",
}

var bindRootCmd = &cobra.Command{
	Use:   "bind-root <host:port>",
	Short: "Connects the controller to the serial bridge of the root mote",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctlRun("bind-root " + args[0])
	},
	GroupID: "ctl",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(bindRootCmd)
}
