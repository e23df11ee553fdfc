package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Backup commands
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage data backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a backup now",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()

		snap, err := c.CreateBackup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup created at %s (%d members, %d payments, %d activities)\n",
			snap.Timestamp.Format(time.RFC3339),
			snap.Integrity.MembersCount,
			snap.Integrity.PaymentsCount,
			snap.Integrity.ActivitiesCount)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the latest backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()

		restored, err := c.RestoreBackup(cmd.Context())
		if err != nil {
			return err
		}
		if !restored {
			return fmt.Errorf("no backup to restore")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Latest backup restored")
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dated backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()

		slots, err := c.ListBackups(cmd.Context())
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No backups")
			return nil
		}
		for _, s := range slots {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupListCmd)
	rootCmd.AddCommand(backupCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all data to a JSON file",
	Long: `Export members, payments, activities and settings as a single JSON
document that "amino import" accepts.

Examples:
  amino export -o gym.json
  amino export > gym.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()

		data, err := c.Export(cmd.Context())
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" || output == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(output, data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported to %s\n", output)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a JSON export",
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Import(cmd.Context(), data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %s\n", filename)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	importCmd.Flags().StringP("file", "f", "", "Export file to import (required)")
	_ = importCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
