package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Run: func(cmd *cobra.Command, args []string) {
		outPath := cmd.Flag("output").Value.String()
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(outPath); err == nil && !force {
			fmt.Printf("%s already exists, use --force to overwrite it\n", outPath)
			os.Exit(-1)
		}

		cfg := state.DefaultCfg()
		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			cfg.Dispatch.DryRun = true
		}
		if root := cmd.Flag("root").Value.String(); root != "" {
			cfg.Root.Dial = root
		}
		err := state.ConfigValidator(&cfg)
		if err != nil {
			fmt.Printf("Invalid config: %s\n", err)
			os.Exit(-1)
		}
		err = state.WriteConfig(outPath, &cfg)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Wrote %s\n", outPath)
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("output", "o", state.DefaultCfgPath, "config output file path")
	initCmd.Flags().String("root", "", "tcp address of the root mote's serial bridge")
	initCmd.Flags().Bool("dry-run", false, "log schedules instead of sending them")
	initCmd.Flags().BoolP("force", "f", false, "overwrite an existing config")
}
