package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/amino/pkg/app"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the runtime",
	Long: `Run the amino runtime: the cache proxy, the admin API, the network
monitor and the sync engine. Pending writes are replayed as soon as the
backend is reachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Starting amino runtime...")
		fmt.Fprintf(out, "  Data Directory: %s\n", cfg.DataDir)
		fmt.Fprintf(out, "  Origin: %s\n", cfg.Origin)
		fmt.Fprintf(out, "  Backend: %s\n", cfg.BackendURL())
		if cfg.Proxy.Enabled {
			fmt.Fprintf(out, "  Cache Proxy: %s\n", cfg.Proxy.Addr)
		}
		fmt.Fprintf(out, "  Admin API: %s\n", cfg.API.Addr)
		fmt.Fprintln(out)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt := app.New(cfg, Version)
		if err := rt.Init(ctx); err != nil {
			return fmt.Errorf("failed to start runtime: %w", err)
		}
		defer rt.Shutdown()

		fmt.Fprintf(out, "✓ Storage opened (%s)\n", rt.Store.Driver())
		fmt.Fprintf(out, "✓ %d pending offline actions\n", rt.Queue.Len())
		fmt.Fprintln(out, "Runtime is running. Press Ctrl+C to stop.")

		if err := rt.Run(ctx); err != nil {
			return err
		}

		fmt.Fprintln(out, "\nShutting down...")
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("no-proxy", false, "Disable the cache proxy")
	serveCmd.Flags().String("origin", "", "Origin serving the app and its API")
	serveCmd.Flags().String("proxy-addr", "", "Cache proxy address")

	v := loader.Viper()
	_ = v.BindPFlag("origin", serveCmd.Flags().Lookup("origin"))
	_ = v.BindPFlag("proxy.addr", serveCmd.Flags().Lookup("proxy-addr"))

	serveCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if noProxy, _ := cmd.Flags().GetBool("no-proxy"); noProxy {
			cfg.Proxy.Enabled = false
		}
	}

	rootCmd.AddCommand(serveCmd)
}
