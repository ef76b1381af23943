package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"anime-identifier-go/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigCheckCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				target = "acid.toml"
			}
			if dir := filepath.Dir(target); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create config directory %q: %w", dir, err)
				}
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := os.WriteFile(target, []byte(config.SampleConfig()), 0o644); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintf(out, "Export %s, %s, %s and %s (or put them in .env) before running acid.\n",
				config.EnvSegmentationKey, config.EnvIdentificationKey, config.EnvCharacterDBKey, config.EnvVideoSearchKey)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file (default acid.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and report missing credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			p := newPainter(out)
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if !ctx.configSeen {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}

			rows := [][]string{
				credentialRow(p, "segmentation", config.EnvSegmentationKey, cfg.Segmentation.URL, cfg.Segmentation.APIKey),
				credentialRow(p, "identification", config.EnvIdentificationKey, cfg.Identification.URL, cfg.Identification.APIKey),
				credentialRow(p, "character lookup", config.EnvCharacterDBKey, cfg.CharacterDB.URL, cfg.CharacterDB.APIKey),
				credentialRow(p, "video search", config.EnvVideoSearchKey, cfg.VideoSearch.URL, cfg.VideoSearch.APIKey),
			}
			fmt.Fprintln(out, renderTable([]string{"Stage", "Key", "Endpoint", "Credential"}, rows, nil))

			if err := cfg.RequireCredentials(); err != nil {
				return err
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func credentialRow(p painter, stage, env, url, key string) []string {
	status := p.ok("set")
	if strings.TrimSpace(key) == "" {
		status = p.bad("missing")
	}
	return []string{stage, env, url, status}
}
