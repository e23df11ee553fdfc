package main

import (
	"fmt"
	"os"

	"github.com/cuemby/amino/pkg/client"
	"github.com/cuemby/amino/pkg/config"
	"github.com/cuemby/amino/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	loader  = config.NewLoader()
	cfgFile string
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "amino",
	Short: "Amino - offline durability and sync runtime for the gym app",
	Long: `Amino runs next to the gym web UI. It caches the app and its API
responses for offline use, keeps every write in local storage, queues
writes the backend could not take and replays them when it comes back.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loader.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
			Output:     os.Stderr,
		})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Amino version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./amino.yaml or $HOME/.amino/amino.yaml)")
	flags.String("data-dir", "", "Data directory")
	flags.String("api-addr", "", "Admin API address")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Log as JSON")

	v := loader.Viper()
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("api.addr", flags.Lookup("api-addr"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.json", flags.Lookup("log-json"))

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Amino version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// apiClient connects to the admin API of the running runtime
func apiClient() (*client.Client, error) {
	c, err := client.NewClient(cfg.API.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to runtime: %w", err)
	}
	return c, nil
}
