package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View CLI configuration",
	Long: `View the configuration neuronctl resolved from defaults, the --config
file and the environment.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func redact(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "****"
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		shown := *cfg
		if shown.Deploy.HFToken != "" {
			shown.Deploy.HFToken = "****"
		}
		return printJSON(out, shown)
	}

	fmt.Fprintln(out, "neuronctl Configuration")
	fmt.Fprintln(out, "=======================")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Region:               %s\n", cfg.AWS.Region)
	fmt.Fprintf(out, "IAM role:             %s\n", cfg.Deploy.IAMRole)
	fmt.Fprintf(out, "HF token:             %s\n", redact(cfg.Deploy.HFToken))
	fmt.Fprintf(out, "Volume size:          %d GB\n", cfg.Deploy.VolumeSizeGB)
	fmt.Fprintf(out, "Health check timeout: %s\n", cfg.Deploy.HealthCheckTimeout)
	fmt.Fprintf(out, "Wait timeout:         %s\n", cfg.Deploy.WaitTimeout)
	fmt.Fprintf(out, "Inference AMI:        %s\n", orDash(cfg.Deploy.InferenceAmiVersion))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Load test users:      %d (spawn rate %g/s, run time %s)\n",
		cfg.LoadTest.Users, cfg.LoadTest.SpawnRate, cfg.LoadTest.RunTime)
	fmt.Fprintf(out, "Prompt file:          %s\n", cfg.LoadTest.PromptFile)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Database:             %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "Metrics address:      %s\n", orDash(cfg.Metrics.Addr))
	fmt.Fprintf(out, "Log level:            %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
	fmt.Fprintf(out, "Output format:        %s\n", outputFormat)
	return nil
}
