package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/sagemaker"
)

var deleteRegion string

var deleteCmd = &cobra.Command{
	Use:   "delete <endpoint>",
	Short: "Delete an endpoint with its configuration, models and inference components",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().StringVar(&deleteRegion, "region", "", "AWS region (defaults to aws.region)")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	clients, err := sagemaker.NewClients(firstNonEmpty(deleteRegion, cfg.AWS.Region))
	if err != nil {
		return err
	}
	if err := clients.Deployer(sagemaker.WithLogger(logger)).Delete(ctx, name); err != nil {
		return err
	}

	db, _, store, err := openStores(ctx)
	if err != nil {
		logger.Warn("failed to open results database", slog.String("error", err.Error()))
	} else {
		defer db.Close()
		if _, err := store.MarkDeleted(ctx, name, time.Now()); err != nil {
			logger.Warn("failed to record deletion", slog.String("error", err.Error()))
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted endpoint %s\n", name)
	return nil
}
