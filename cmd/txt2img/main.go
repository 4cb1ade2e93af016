package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/kvstore"
	"github.com/InsulaLabs/txt2img/plugins/txt2img"
	"github.com/InsulaLabs/txt2img/runtime"
	"github.com/InsulaLabs/txt2img/tools"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configFile string
	ephemeral  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "txt2img",
		Short:         "Image generation and conversational editing tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file. Generated defaults are used when empty.")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "Keep session history in memory only.")

	rootCmd.AddCommand(serveCmd(), newCfgCmd(), invokeCmd(), validateCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		color.HiRed("Error: %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		cfg, err := config.GenerateConfig("")
		if err != nil {
			return nil, err
		}
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configFile, err)
	}
	return cfg, nil
}

// setup builds a runtime with the txt2img plugin mounted. The caller owns
// the runtime and must Close it unless it is Run.
func setup(ctx context.Context) (*runtime.Runtime, *txt2img.Txt2ImgPlugin, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, level := runtime.NewLogger(os.Stderr, cfg.Logging)

	var opts []runtime.Option
	if ephemeral {
		opts = append(opts, runtime.WithStore(kvstore.NewMemory()))
	}

	rt, err := runtime.New(ctx, logger, cfg, level, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize runtime: %w", err)
	}

	plugin := txt2img.New(logger, tools.Default(), cfg.RateLimiters)
	if err := rt.WithPlugin(plugin); err != nil {
		_ = rt.Close()
		return nil, nil, nil, err
	}
	return rt, plugin, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP host with the txt2img plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, logger, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Run(); err != nil {
				logger.Error("Runtime exited with error", "error", err)
				return err
			}
			return nil
		},
	}
}

func newCfgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-cfg <path>",
		Short: "Write a generated default configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			cfg, err := config.GenerateConfig(path)
			if err != nil {
				return fmt.Errorf("failed to generate configuration: %w", err)
			}

			yamlData, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal generated config to YAML: %w", err)
			}

			dir := filepath.Dir(path)
			if dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create directory for config file %s: %w", path, err)
				}
			}

			if err := os.WriteFile(path, yamlData, 0600); err != nil {
				return fmt.Errorf("failed to write generated configuration to %s: %w", path, err)
			}

			color.HiGreen("Generated configuration at %s", path)
			return nil
		},
	}
}
