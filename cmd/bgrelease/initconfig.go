package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waabox/bgrelease/internal/config"
	"github.com/waabox/bgrelease/internal/domain"
)

var forceInit bool

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a config file holding every default",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists, use --force to overwrite it: %w", path, domain.ErrConfiguration)
		}
		if err := config.Save(path, config.Sample()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	initConfigCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initConfigCmd)
}
