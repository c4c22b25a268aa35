package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dev.helix.deliberation/internal/config"
)

var configFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective engine configuration as YAML",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().StringVar(&configFile, "config", "", "path to YAML config file")
}

func runConfig(cmd *cobra.Command, _ []string) error {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Load()
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
