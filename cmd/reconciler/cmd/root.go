package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"

	// appConfig and activeViper are populated before every command runs
	appConfig   *config.AppConfig
	activeViper *viper.Viper
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Payment message parsing and reconciliation engine",
	Long: `Reconciler parses wire transfer notifications and bank statements,
matches them against outstanding obligations and claims each obligation at
most once. It also scores confirmed payments for fraud risk.

Examples:
  reconciler reconcile --statement jan.txt --account acct-1 --start 2024-01-01 --end 2024-01-31
  reconciler parse-message --file mt103.txt
  reconciler assess pay-1
  reconciler serve --config reconciler.yaml`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfiguration,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "reconciler %s (commit %s, built %s)\n", version, commit, date)
	},
}

// loadConfiguration reads the config file, .env and environment, then sets
// up the global logger
func loadConfiguration(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	flags := cmd.Flags()
	if f := flags.Lookup("log-level"); f != nil && f.Changed {
		v.Set("logging.level", logLevel)
	}
	if f := flags.Lookup("log-format"); f != nil && f.Changed {
		v.Set("logging.format", logFormat)
	}
	if verbose {
		v.Set("logging.level", string(logger.DebugLevel))
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	if v.ConfigFileUsed() != "" {
		log.WithField("config_file", v.ConfigFileUsed()).Debug("Using config file")
	}

	appConfig = cfg
	activeViper = v
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
