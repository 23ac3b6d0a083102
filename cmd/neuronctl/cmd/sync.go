package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/reconcile"
)

var deploymentsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh recorded deployments from SageMaker",
	Long: `Check every creating or in-service deployment in the results database
against SageMaker. Endpoints that reached InService or Failed are updated,
and endpoints that no longer exist are marked deleted.`,
	RunE: runDeploymentsSync,
}

func init() {
	deploymentsCmd.AddCommand(deploymentsSyncCmd)
}

// newStatusCheckers returns the SageMaker status checkers used by sync and
// serve; tests replace it
var newStatusCheckers = func(defaultRegion string) reconcile.CheckerRegistry {
	return reconcile.NewRegionCheckers(defaultRegion)
}

func runDeploymentsSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, _, store, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	r := reconcile.New(store, newStatusCheckers(cfg.AWS.Region), reconcile.WithLogger(logger))
	report, err := r.RunOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return printJSON(out, report)
	}
	fmt.Fprintf(out, "Checked %d deployments: %d in service, %d failed, %d gone, %d errors\n",
		report.Checked, report.InService, report.Failed, report.Gone, report.Errors)
	return nil
}
