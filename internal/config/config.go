package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Providers ProvidersConfig `mapstructure:"providers"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ProvidersConfig holds configuration for VM providers
type ProvidersConfig struct {
	CloudRift CloudRiftConfig `mapstructure:"cloudrift"`
	GCloud    GCloudConfig    `mapstructure:"gcloud"`
}

// CloudRiftConfig holds CloudRift specific configuration
type CloudRiftConfig struct {
	APIKey       string `mapstructure:"api_key"`
	APIURL       string `mapstructure:"api_url"`
	ImageURL     string `mapstructure:"image_url"`
	CloudInitURL string `mapstructure:"cloudinit_url"`
}

// GCloudConfig holds Google Cloud specific configuration
type GCloudConfig struct {
	Zone              string `mapstructure:"zone"`
	ProvisioningModel string `mapstructure:"provisioning_model"` // FLEX_START, SPOT, or STANDARD
	SSHUser           string `mapstructure:"ssh_user"`
	ImageFamily       string `mapstructure:"image_family"`
	ImageProject      string `mapstructure:"image_project"`
	ServiceAccount    string `mapstructure:"service_account"`
	BootDiskSize      string `mapstructure:"boot_disk_size"`
	NetworkTags       string `mapstructure:"network_tags"`
	ExtraArgs         string `mapstructure:"extra_args"` // raw extra gcloud flags
}

// SSHConfig holds SSH connection configuration
type SSHConfig struct {
	KeyPath        string        `mapstructure:"key_path"`
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// BenchmarkConfig holds benchmark run configuration
type BenchmarkConfig struct {
	ResultsDir          string        `mapstructure:"results_dir"`
	ModelDir            string        `mapstructure:"model_dir"`
	HFToken             string        `mapstructure:"hf_token"`
	MaxConcurrentGroups int           `mapstructure:"max_concurrent_groups"`
	GPUConcurrency      int           `mapstructure:"gpu_concurrency"`
	DeployTimeout       time.Duration `mapstructure:"deploy_timeout"`
	WorkloadTimeout     time.Duration `mapstructure:"workload_timeout"`
	MetricsAddr         string        `mapstructure:"metrics_addr"` // empty disables the metrics endpoint
}

// DatabaseConfig holds the results history database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Read from environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Provider defaults
	v.SetDefault("providers.cloudrift.api_url", "https://api.cloudrift.ai")
	v.SetDefault("providers.gcloud.zone", "us-central1-b")
	v.SetDefault("providers.gcloud.provisioning_model", "FLEX_START")
	v.SetDefault("providers.gcloud.ssh_user", "deploy")
	v.SetDefault("providers.gcloud.image_family", "debian-12")
	v.SetDefault("providers.gcloud.image_project", "debian-cloud")

	// SSH defaults
	v.SetDefault("ssh.key_path", "~/.ssh/id_ed25519")
	v.SetDefault("ssh.verify_timeout", 10*time.Minute)
	v.SetDefault("ssh.check_interval", 10*time.Second)
	v.SetDefault("ssh.connect_timeout", 30*time.Second)
	v.SetDefault("ssh.command_timeout", 10*time.Minute)

	// Benchmark defaults
	v.SetDefault("benchmark.results_dir", "./results")
	v.SetDefault("benchmark.model_dir", "/hf_models")
	v.SetDefault("benchmark.max_concurrent_groups", 4)
	v.SetDefault("benchmark.gpu_concurrency", 1)
	v.SetDefault("benchmark.deploy_timeout", 60*time.Minute)
	v.SetDefault("benchmark.workload_timeout", 2*time.Hour)

	// Database defaults
	v.SetDefault("database.path", "./data/gpubench.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	// Provider credentials from environment
	bindEnv("providers.cloudrift.api_key", "CLOUDRIFT_API_KEY")
	bindEnv("providers.gcloud.zone", "GCLOUD_ZONE")
	bindEnv("providers.gcloud.ssh_user", "GCLOUD_SSH_USER")
	bindEnv("providers.gcloud.service_account", "GCP_SERVICE_ACCOUNT")

	// HuggingFace token for model downloads
	bindEnv("benchmark.hf_token", "HF_TOKEN")

	// Database path
	bindEnv("database.path", "DATABASE_PATH")

	// Logging
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Benchmark.ResultsDir == "" {
		return fmt.Errorf("benchmark.results_dir must be set")
	}
	if c.Benchmark.MaxConcurrentGroups < 1 {
		return fmt.Errorf("benchmark.max_concurrent_groups must be at least 1")
	}
	if c.Benchmark.GPUConcurrency < 1 {
		return fmt.Errorf("benchmark.gpu_concurrency must be at least 1")
	}
	if c.SSH.KeyPath == "" {
		return fmt.Errorf("ssh.key_path must be set")
	}

	model := strings.ToUpper(c.Providers.GCloud.ProvisioningModel)
	switch model {
	case "FLEX_START", "SPOT", "STANDARD":
	default:
		return fmt.Errorf("providers.gcloud.provisioning_model must be FLEX_START, SPOT, or STANDARD, got %q", c.Providers.GCloud.ProvisioningModel)
	}

	return nil
}
