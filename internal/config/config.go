package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	AWS      AWSConfig      `mapstructure:"aws"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	LoadTest LoadTestConfig `mapstructure:"loadtest"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AWSConfig holds AWS session configuration
type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// DeployConfig holds defaults for endpoint deployments
type DeployConfig struct {
	IAMRole            string        `mapstructure:"iam_role"`
	HFToken            string        `mapstructure:"hf_token"`
	InstanceCount      int           `mapstructure:"instance_count"`
	VolumeSizeGB       int           `mapstructure:"volume_size_gb"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	WaitTimeout        time.Duration `mapstructure:"wait_timeout"`

	InferenceAmiVersion string `mapstructure:"inference_ami_version"` // empty uses the SageMaker default
}

// LoadTestConfig holds defaults for the load generator
type LoadTestConfig struct {
	Users               int           `mapstructure:"users"`
	SpawnRate           float64       `mapstructure:"spawn_rate"`
	RunTime             time.Duration `mapstructure:"run_time"`
	PromptFile          string        `mapstructure:"prompt_file"`
	AveragePromptLines  int           `mapstructure:"average_prompt_lines"`
	AverageOutputTokens int           `mapstructure:"average_output_tokens"`
	SystemPrompt        string        `mapstructure:"system_prompt"`
	Temperature         float64       `mapstructure:"temperature"`
	RepetitionPenalty   float64       `mapstructure:"repetition_penalty"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds the benchmark results database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds the Prometheus listener configuration
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the listener
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from an optional file and the environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("NEURONCTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "us-east-1")

	// Deploy defaults
	v.SetDefault("deploy.iam_role", "sagemaker_execution_role")
	v.SetDefault("deploy.instance_count", 1)
	v.SetDefault("deploy.volume_size_gb", 256)
	v.SetDefault("deploy.health_check_timeout", 30*time.Minute) // Neuron models take a long time to load + warmup
	v.SetDefault("deploy.wait_timeout", 90*time.Minute)
	v.SetDefault("deploy.inference_ami_version", "al2-ami-sagemaker-inference-neuron-2")

	// Load test defaults
	v.SetDefault("loadtest.users", 1)
	v.SetDefault("loadtest.spawn_rate", 1.0)
	v.SetDefault("loadtest.run_time", 5*time.Minute)
	v.SetDefault("loadtest.prompt_file", "alice.txt")
	v.SetDefault("loadtest.average_prompt_lines", 2)
	v.SetDefault("loadtest.average_output_tokens", 64)
	v.SetDefault("loadtest.system_prompt", "Speak in a Medieval British style.")
	v.SetDefault("loadtest.temperature", 0.5)
	v.SetDefault("loadtest.repetition_penalty", 1.0)
	v.SetDefault("loadtest.request_timeout", 2*time.Minute)

	v.SetDefault("database.path", "./data/benchmarks.db")
	v.SetDefault("metrics.addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	// BindEnv errors are non-fatal but should be logged
	bindEnv := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", strings.Join(envVars, ",")),
				slog.String("error", err.Error()))
		}
	}

	// First listed variable wins
	bindEnv("aws.region", "AWS_REGION", "AWS_DEFAULT_REGION")

	bindEnv("deploy.hf_token", "HF_TOKEN")
	bindEnv("deploy.iam_role", "SAGEMAKER_ROLE")

	bindEnv("database.path", "NEURONCTL_DB")
	bindEnv("metrics.addr", "NEURONCTL_METRICS_ADDR")

	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws region is required (set AWS_REGION or aws.region)")
	}

	if c.Deploy.InstanceCount < 1 {
		return fmt.Errorf("deploy.instance_count must be at least 1")
	}

	if c.LoadTest.Users < 1 {
		return fmt.Errorf("loadtest.users must be at least 1")
	}
	if c.LoadTest.SpawnRate <= 0 {
		return fmt.Errorf("loadtest.spawn_rate must be positive")
	}
	if c.LoadTest.AveragePromptLines < 1 {
		return fmt.Errorf("loadtest.average_prompt_lines must be at least 1")
	}
	if c.LoadTest.AverageOutputTokens < 1 {
		return fmt.Errorf("loadtest.average_output_tokens must be at least 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}
