package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/config"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/logging"
)

var (
	cfgFile      string
	outputFormat string
	logLevel     string

	// Loaded before every command runs
	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "neuronctl",
	Short: "Deploy, test and benchmark LLM endpoints on AWS Inferentia and Trainium",
	Long: `neuronctl manages Hugging Face Neuronx inference endpoints on SageMaker.

This CLI tool allows you to:
- Deploy TGI or vLLM Neuronx images as SageMaker endpoints
- Invoke endpoints and stream their generations
- Load test endpoints and write Locust-compatible statistics
- Summarize and record benchmark results`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch outputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("unknown output format %q (use table or json)", outputFormat)
	}

	cfg = loaded
	logger = logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}
