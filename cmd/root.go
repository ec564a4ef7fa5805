package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NexoWatt/nexowatt-ems/app"
	"github.com/NexoWatt/nexowatt-ems/config"
	"github.com/NexoWatt/nexowatt-ems/infra/logger"
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgPath   string
	logLevel  string
	checkOnly bool
)

var rootCmd = &cobra.Command{
	Use:           "nexowatt-ems",
	Short:         "Battery storage dispatch service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runService,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level of the configuration")
	rootCmd.Flags().BoolVar(&checkOnly, "check", false, "validate the configuration, list the units and exit")
}

// Execute runs the CLI and reports a failure on stderr.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "error:", err)
		return err
	}
	return nil
}

// loadConfig reads cfgPath and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	return cfg, nil
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if checkOnly {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config %s ok, cycle %s\n", cfgPath, cfg.CycleInterval())
		for _, u := range cfg.Units {
			state := "enabled"
			if u.Disabled {
				state = "disabled"
			}
			d := u.DispatchConfig(cfg.Dispatch)
			fmt.Fprintf(out, "unit %s %s charge<=%.0fW discharge<=%.0fW\n", u.ID, state, d.MaxChargeW, d.MaxDischargeW)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	log := logger.New("main")
	log.Infof("nexowatt-ems %s starting with %d units", Version, len(svc.Manager.Units()))
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
