package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trialwhisperer/internal/config"
	"trialwhisperer/internal/logging"
	"trialwhisperer/internal/metrics"
)

// app is the state shared by every subcommand once the root has loaded config.
type app struct {
	cfgPath string
	cfg     *config.AppConfig
	log     *zap.Logger
	metrics *metrics.Metrics
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "trialwhisperer",
		Short:         "Answer questions about clinical-trial protocols with cited evidence",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "",
		"path to a YAML or TOML config file (default ./config.yaml, then ~/.config/trialwhisperer/config.yaml)")

	root.AddCommand(
		newFetchCmd(a),
		newIngestCmd(a),
		newIndexCmd(a),
		newRetrieveCmd(a),
		newAskCmd(a),
		newEligibilityCmd(a),
		newServeCmd(a),
		newTUICmd(a),
		newEvalCmd(a),
	)
	return root
}

func (a *app) load() error {
	var err error
	if a.cfgPath == "" {
		a.cfg, _, err = config.LoadDefault()
	} else {
		a.cfg, err = config.Load(a.cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.log, err = logging.New(a.cfg.Log.Level, a.cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.metrics = metrics.New()
	return nil
}
