package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/maltedev/store-scraper/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "store-scraper",
	Short: "Search several online stores for a keyword and collect the listings",
	Long: "store-scraper runs a keyword against every enabled store, normalizes the listing\n" +
		"entries into products and keeps them per request. It can serve the HTTP API\n" +
		"with a background worker or run a single search from the command line.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}

		logger = newLogger(os.Stderr, cfg.Logging)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("db-driver", "", "Repository backend: postgres or memory (overrides DB_DRIVER)")
	rootCmd.PersistentFlags().String("browser-driver", "", "Page driver: playwright or http (overrides BROWSER_DRIVER)")
	rootCmd.PersistentFlags().StringSlice("stores", nil, "Stores to scrape (overrides SCRAPER_STORES)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("db-driver") {
		cfg.Database.Driver, _ = flags.GetString("db-driver")
	}
	if flags.Changed("browser-driver") {
		cfg.Browser.Driver, _ = flags.GetString("browser-driver")
	}
	if flags.Changed("stores") {
		cfg.Scraper.Stores, _ = flags.GetStringSlice("stores")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	return cfg.Validate()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
