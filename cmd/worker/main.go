// Command worker runs the execution supervisor: it connects to the
// broker and the task store, then drives the ingest/dispatch pipeline
// until told to shut down.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/taskqueue/internal/broker"
	"github.com/hrygo/taskqueue/internal/config"
	"github.com/hrygo/taskqueue/internal/handlers"
	"github.com/hrygo/taskqueue/internal/logging"
	"github.com/hrygo/taskqueue/internal/metrics"
	"github.com/hrygo/taskqueue/internal/signals"
	"github.com/hrygo/taskqueue/internal/store"
	"github.com/hrygo/taskqueue/internal/supervisor"
)

func main() {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "worker",
		Short: "Consumes tasks from the broker and drives them to completion.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}
	config.BindFlags(rootCmd, v)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg, err := config.FromViper(v, true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.ForWorker(logging.Default(), cfg.WorkerID)
	ctx = logging.ToContext(ctx, log)

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to store after retry budget exhausted", "error", err.Error())
		return err
	}
	defer st.Close()

	src, err := broker.Connect(ctx, cfg.BrokerURL)
	if err != nil {
		log.Error("failed to connect to broker after retry budget exhausted", "error", err.Error())
		return err
	}
	defer src.Close()

	if err := st.RegisterWorker(ctx, cfg.WorkerID, "idle", nil); err != nil {
		log.Error("failed to register worker node", "error", err.Error())
		return err
	}

	exporter := metrics.NewExporter()
	sup := supervisor.New(src, st, handlers.Default(), cfg.WorkerID).WithMetrics(exporter)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals.Termination...)
	go func() {
		<-sigCh
		log.Info("shutdown signal received, draining in-flight executions")
		cancel()
	}()

	log.Info("worker started")
	return sup.Run(ctx)
}
