package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

var computeCmd = &cobra.Command{
	Use:   "compute <topology.yaml>",
	Short: "Computes a schedule offline from a topology file",
	Long: `Reads a topology file of the form

parents:
  "0012:4b00:0000:0001": ["0012:4b00:0000:0088"]

and prints the schedule the controller would distribute for it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := state.DefaultCfg()
		if _, err := os.Stat(cfgPath); err == nil {
			c, err := state.ReadConfig(cfgPath)
			if err != nil {
				fmt.Println("Error:", err.Error())
				os.Exit(1)
			}
			cfg = *c
		}
		if alg := cmd.Flag("algorithm").Value.String(); alg != "" {
			cfg.Schedule.Algorithm = alg
		}
		if n, _ := cmd.Flags().GetInt("slots"); n > 0 {
			cfg.Schedule.SlotCount = n
		}
		if n, _ := cmd.Flags().GetInt("channels"); n > 0 {
			cfg.Schedule.ChannelCount = n
		}
		level := slog.LevelWarn
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = slog.LevelDebug
		}
		logger, err := core.NewLogger("", level)
		if err != nil {
			panic(err)
		}
		fragments, _ := cmd.Flags().GetBool("fragments")
		err = compute(os.Stdout, args[0], cfg, fragments, logger)
		if err != nil {
			fmt.Println("Error:", err.Error())
			os.Exit(1)
		}
	},
	GroupID: "weft",
}

func compute(w io.Writer, topologyPath string, cfg state.Cfg, fragments bool, log *slog.Logger) error {
	parents, err := state.ReadTopologyFile(topologyPath)
	if err != nil {
		return err
	}
	snap := state.SnapshotFromParents(parents)
	alloc, err := core.NewAllocator(cfg.Schedule.Algorithm, log)
	if err != nil {
		return err
	}
	res, err := alloc.Allocate(snap, core.CapacityFromCfg(cfg.Schedule))
	if err != nil {
		return err
	}
	table := &state.ScheduleTable{
		Entries:   res.Entries,
		Feasible:  res.Feasible,
		Algorithm: alloc.Name(),
	}
	fmt.Fprintf(w, "%d nodes, %d links, %s, feasible=%t, %d entries\n",
		len(snap.Nodes), len(snap.Edges), table.Algorithm, table.Feasible, len(table.Entries))
	for _, e := range res.Unassigned {
		fmt.Fprintf(w, "unassigned: %s\n", e)
	}
	fmt.Fprint(w, table.Format())
	if !fragments {
		return nil
	}
	for _, node := range snap.Nodes {
		frags, err := core.Fragment(node, table.Entries, cfg.Dispatch.MaxEntries)
		if err != nil {
			return err
		}
		for i, frag := range frags {
			fmt.Fprintf(w, "%s [%d] %s\n", node, i, hex.EncodeToString(frag))
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(computeCmd)
	computeCmd.Flags().StringP("algorithm", "a", "", "allocation algorithm, tasa or firstfit")
	computeCmd.Flags().Int("slots", 0, "number of slots to allocate from")
	computeCmd.Flags().Int("channels", 0, "number of channel offsets to allocate from")
	computeCmd.Flags().BoolP("fragments", "f", false, "also print the encoded fragments of every node")
	computeCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}
