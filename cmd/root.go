package cmd

import (
	"os"

	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

var (
	cfgPath    = state.DefaultCfgPath
	socketPath = ""
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft TSCH Schedule Controller",
	Long: `Weft collects the RPL parent reports of a 6TiSCH mesh, allocates TSCH cells to every link
and pushes the resulting schedule to each mote.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize Weft",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "weft",
		Title: "Controller Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ctl",
		Title: "Control a Running Controller",
	})
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", cfgPath, "controller config, a path or a file:// or http(s):// url")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "control socket, defaults to the one in the config")
}

// ctlSocket resolves the control socket of the running controller.
func ctlSocket() string {
	if socketPath != "" {
		return socketPath
	}
	cfg, err := state.ReadConfig(cfgPath)
	if err != nil {
		return state.DefaultCtlSocket
	}
	return cfg.CtlSocket
}
