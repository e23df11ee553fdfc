package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/cuemby/amino/pkg/client"
	"github.com/spf13/cobra"
)

// Queue commands
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline action queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending offline actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()

		snap, err := c.Queue(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := c.QueueStats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Connection: %s\n", snap.SyncStatus.ConnectionStatus)
		fmt.Fprintf(out, "Sync in progress: %v\n", snap.SyncStatus.SyncInProgress)
		if !snap.SyncStatus.LastSyncAt.IsZero() {
			fmt.Fprintf(out, "Last sync: %s\n", snap.SyncStatus.LastSyncAt.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "Pending: %d (%.1f KB)\n", snap.Count, stats.KB)
		fmt.Fprintf(out, "Dead letters: %d\n", snap.DeadLetterCount)

		if snap.Count == 0 {
			return nil
		}
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tQUEUED")
		for _, a := range snap.Actions {
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.Type, a.EnqueuedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending offline action",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("clearing the queue loses unsynced writes; pass --yes to confirm")
		}

		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.ClearQueue(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Queue cleared")
		return nil
	},
}

var queueDeadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List actions the backend rejected permanently",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()

		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			if err := c.PurgeDeadLetters(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Dead letters purged")
			return nil
		}

		letters, err := c.DeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		if len(letters) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tFAILED\tERROR")
		for _, d := range letters {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Action.ID, d.Action.Type, d.FailedAt.Format(time.RFC3339), d.Error)
		}
		return w.Flush()
	},
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueDeadLettersCmd)

	queueClearCmd.Flags().Bool("yes", false, "Confirm dropping pending actions")
	queueDeadLettersCmd.Flags().Bool("purge", false, "Delete every dead letter")

	rootCmd.AddCommand(queueCmd)
}

// Sync commands
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize with the backend",
}

var syncForceCmd = &cobra.Command{
	Use:   "force",
	Short: "Replay the offline queue now",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		defer c.Close()
		c.SetTimeout(2 * time.Minute)

		res, err := c.ForceSync(cmd.Context())
		if client.IsStatus(err, http.StatusServiceUnavailable) {
			return fmt.Errorf("backend unreachable, actions stay queued")
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Sync finished: %d processed, %d failed, %d rejected\n", res.Processed, res.Failed, res.Permanent)
		if res.Remaining > 0 {
			fmt.Fprintf(out, "  %d actions remain queued\n", res.Remaining)
		}
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncForceCmd)
	rootCmd.AddCommand(syncCmd)
}
