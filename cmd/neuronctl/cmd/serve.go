package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/api"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/reconcile"
)

var (
	serveAddr              string
	serveReconcileInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded benchmark results and deployments over HTTP",
	Long: `Serve the results database read-only over HTTP:

  GET /api/v1/benchmarks[?run=&limit=]
  GET /api/v1/benchmarks/best[?model=]
  GET /api/v1/benchmarks/:id
  GET /api/v1/deployments[?active=true]
  GET /api/v1/deployments/:endpoint
  GET /metrics

With --reconcile-interval the recorded deployments are also refreshed from
SageMaker on that interval.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:9100", "Listen address")
	serveCmd.Flags().DurationVar(&serveReconcileInterval, "reconcile-interval", 0, "Refresh deployments from SageMaker on this interval (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, results, deployments, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	server := api.New(
		api.WithAddr(serveAddr),
		api.WithLogger(logger),
		api.WithBenchmarkStore(results),
		api.WithDeploymentStore(deployments),
	)

	if serveReconcileInterval > 0 {
		r := reconcile.New(deployments, newStatusCheckers(cfg.AWS.Region),
			reconcile.WithLogger(logger),
			reconcile.WithInterval(serveReconcileInterval))
		r.Start(ctx)
		defer r.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	server.SetReady(true)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	server.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
