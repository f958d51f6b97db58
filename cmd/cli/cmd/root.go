// Package cmd implements the gpubench CLI commands.
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gpubench/gpubench/internal/config"
	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/provider"
	"github.com/gpubench/gpubench/internal/provider/cloudrift"
	"github.com/gpubench/gpubench/internal/provider/gcloud"
)

var (
	configPath   string
	outputFormat string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gpubench",
	Short: "gpubench - LLM inference benchmarks on ephemeral GPU VMs",
	Long: `gpubench provisions cloud GPU VMs, deploys containerized inference
engines, runs serving benchmarks against them, and tears everything down.

Benchmarks are described by declarative recipes; a recipe's matrix expands
into tasks, tasks sharing a model and GPU type share a VM.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		logging.Setup(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnvOrDefault("GPUBENCH_CONFIG", ""), "Config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildRegistry creates the provider registry from configured credentials.
// Providers without credentials are left out; provisioning skips their
// offerings.
func buildRegistry(cfg *config.Config) *provider.Registry {
	var providers []provider.Provider

	if cfg.Providers.CloudRift.APIKey != "" {
		var opts []cloudrift.ClientOption
		if cfg.Providers.CloudRift.APIURL != "" {
			opts = append(opts, cloudrift.WithBaseURL(cfg.Providers.CloudRift.APIURL))
		}
		if cfg.Providers.CloudRift.ImageURL != "" {
			opts = append(opts, cloudrift.WithImageURL(cfg.Providers.CloudRift.ImageURL))
		}
		if cfg.Providers.CloudRift.CloudInitURL != "" {
			opts = append(opts, cloudrift.WithCloudInitURL(cfg.Providers.CloudRift.CloudInitURL))
		}
		providers = append(providers, cloudrift.NewClient(cfg.Providers.CloudRift.APIKey, opts...))
	}

	gc := cfg.Providers.GCloud
	providers = append(providers, gcloud.NewClient(gcloud.Options{
		Zone:              gc.Zone,
		ProvisioningModel: gc.ProvisioningModel,
		SSHUser:           gc.SSHUser,
		ImageFamily:       gc.ImageFamily,
		ImageProject:      gc.ImageProject,
		ServiceAccount:    gc.ServiceAccount,
		BootDiskSize:      gc.BootDiskSize,
		NetworkTags:       splitNonEmpty(gc.NetworkTags, ","),
		ExtraArgs:         strings.Fields(gc.ExtraArgs),
	}))

	return provider.NewRegistry(providers...)
}

func splitNonEmpty(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
