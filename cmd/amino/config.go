package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, AMINO_*
environment variables and flags are applied. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		data, err := loader.Render(format)
		if err != nil {
			return err
		}
		if file := loader.ConfigFile(); file != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "# from %s\n", file)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configShowCmd.Flags().String("format", "yaml", "Output format (yaml, toml)")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
