package main

import (
	"os"

	"github.com/dvloznov/audible-etl/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log := logger.New()
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "etl",
		Short: "Audible sales ETL: MySQL + conversion rates → BigQuery",
		Long: `etl extracts audiobook transactions and their catalog from a relational
database, fetches daily conversion rates, converts every price and bulk-loads
the result into BigQuery.

Run the whole graph with "etl run", or a single task with extract, rates,
merge or load.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")

	root.AddCommand(
		newRunCmd(),
		newExtractCmd(),
		newRatesCmd(),
		newMergeCmd(),
		newLoadCmd(),
		newUploadCmd(),
		newInspectCmd(),
		newSetupCmd(),
		newGraphCmd(),
	)
	return root
}

// commandLogger builds the logger for a command; --log-level wins over the config file.
func commandLogger(configured string) zerolog.Logger {
	if logLevel != "" {
		return logger.NewWithLevel(logLevel)
	}
	return logger.NewWithLevel(configured)
}
