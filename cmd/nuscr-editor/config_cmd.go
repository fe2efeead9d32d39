package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/nuscr-editor/internal/config"
)

func init() {
	configCmd.AddCommand(configSetPathCmd, configCheckOnSaveCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change .nuscr/config.yaml",
}

var configSetPathCmd = &cobra.Command{
	Use:   "set-path <path>",
	Short: "Set the nuscr binary used for every run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.SetToolPath(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "nuScr binary set to: %s\n", cfg.Snapshot().ToolPath)
		return nil
	},
}

var configCheckOnSaveCmd = &cobra.Command{
	Use:   "check-on-save <true|false>",
	Short: "Toggle validation when a document is saved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := strconv.ParseBool(args[0])
		if err != nil {
			return fmt.Errorf("check-on-save: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.SetCheckOnSave(enabled); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "check_on_save: %t\n", enabled)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		effective := struct {
			ConfigFile  string               `yaml:"config_file"`
			ToolPath    string               `yaml:"nuscr_path"`
			CheckOnSave bool                 `yaml:"check_on_save"`
			LiveURL     string               `yaml:"live_url"`
			CacheDir    string               `yaml:"cache_dir,omitempty"`
			Release     config.ReleaseConfig `yaml:"release"`
		}{
			ConfigFile:  cfg.ProjectConfigPath(),
			ToolPath:    cfg.ToolPath(),
			CheckOnSave: cfg.CheckOnSave(),
			LiveURL:     cfg.LiveURL(),
			CacheDir:    cfg.CacheDir(),
			Release:     cfg.Snapshot().Release,
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(effective); err != nil {
			return err
		}
		return enc.Close()
	},
}

func loadConfig() (*config.Config, error) {
	projectDir, err := resolveProjectDir()
	if err != nil {
		return nil, err
	}
	if err := config.InitProjectDir(projectDir); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", config.ProjectDirName, err)
	}
	return config.NewConfig(projectDir)
}
