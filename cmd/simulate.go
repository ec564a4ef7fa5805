package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
	"github.com/NexoWatt/nexowatt-ems/infra/logger"
	"github.com/NexoWatt/nexowatt-ems/simulator"
)

var (
	simTracePath    string
	simTraceBackend string
	simQuiet        bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Run a scenario against a simulated site and battery",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simTracePath, "trace", "", "persist decision traces to this file")
	simulateCmd.Flags().StringVar(&simTraceBackend, "trace-backend", logging.BackendJSONL, "trace store backend (jsonl, rotating, sqlite)")
	simulateCmd.Flags().BoolVarP(&simQuiet, "quiet", "q", false, "only print the final report")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := simulator.LoadScenario(args[0])
	if err != nil {
		return err
	}
	opts := simulator.Options{Log: logger.New("simulator")}
	if simTracePath != "" {
		store, err := logging.Open(logging.Options{Backend: simTraceBackend, Path: simTracePath})
		if err != nil {
			return fmt.Errorf("trace store: %w", err)
		}
		defer store.Close()
		opts.Store = store
	}
	out := cmd.OutOrStdout()
	if !simQuiet {
		opts.OnStep = func(s simulator.Step) {
			fmt.Fprintf(out, "%s load=%6.0f pv=%6.0f grid=%6.0f set=%6d soc=%5.1f%% %-22s %s\n",
				s.Time.Format("15:04:05"), s.LoadW, s.PVW, s.GridW, s.Result.Watts, s.SoCPct, s.Result.Source, s.Result.Reason)
		}
	}

	rep, err := simulator.Run(ctx, sc, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
