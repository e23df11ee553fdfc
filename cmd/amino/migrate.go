package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/cuemby/amino/pkg/storage"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate --from DRIVER --to DRIVER",
	Short: "Copy all data between storage drivers",
	Long: `Copy every partition from one storage driver to another inside the
data directory, for example from the file driver to bolt. The runtime must
be stopped, since it holds the storage lock.

Unless --dry-run is given, the source data is backed up first.

Examples:
  amino migrate --from file --to bolt --dry-run
  amino migrate --from sqlite --to bolt`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("from", "", "Source driver (bolt, sqlite, file)")
	migrateCmd.Flags().String("to", "", "Destination driver (bolt, sqlite, file)")
	migrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
	migrateCmd.Flags().String("backup", "", "Backup path (default: <source path>.backup)")
	_ = migrateCmd.MarkFlagRequired("from")
	_ = migrateCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backupPath, _ := cmd.Flags().GetString("backup")
	out := cmd.OutOrStdout()

	if from == to {
		return fmt.Errorf("--from and --to must differ")
	}
	srcPath := storage.DataPath(from, cfg.DataDir)
	if srcPath == "" || storage.DataPath(to, cfg.DataDir) == "" {
		return fmt.Errorf("migrate works between the bolt, sqlite and file drivers")
	}
	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		return fmt.Errorf("no %s data found at %s", from, srcPath)
	}

	fmt.Fprintf(out, "Migrating %s -> %s\n", from, to)
	fmt.Fprintf(out, "  Data Directory: %s\n", cfg.DataDir)
	fmt.Fprintf(out, "  Dry run: %v\n", dryRun)

	if !dryRun {
		if backupPath == "" {
			backupPath = srcPath + ".backup"
		}
		if err := storage.BackupPath(srcPath, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		fmt.Fprintf(out, "✓ Backup created at %s\n", backupPath)
	}

	src, err := storage.Open(storage.Options{DataDir: cfg.DataDir, Drivers: []string{from}})
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", from, err)
	}
	defer src.Close()

	dst, err := storage.Open(storage.Options{DataDir: cfg.DataDir, Drivers: []string{to}})
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", to, err)
	}
	defer dst.Close()

	report, err := storage.Migrate(src, dst, dryRun)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	names := make([]string, 0, len(report.Partitions))
	for name := range report.Partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-40s %d keys\n", name, report.Partitions[name])
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(out, "⚠ Skipped invalid value %s\n", s)
	}

	if dryRun {
		fmt.Fprintf(out, "\nDry run completed: %d keys would be copied. No changes made.\n", report.Keys)
		return nil
	}
	fmt.Fprintf(out, "\n✓ Migrated %d keys. The %s data was left in place.\n", report.Keys, from)
	fmt.Fprintf(out, "Set storage.drivers to start with %q to use it.\n", to)
	return nil
}
