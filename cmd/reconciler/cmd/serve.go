package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/internal/api"
	"payment-reconciliation-engine/internal/matcher"
	"payment-reconciliation-engine/pkg/logger"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine operations over HTTP",
	Long: `Serve exposes message parsing, statement parsing, reconciliation and fraud
scoring as a JSON API. When started with --config the file is watched and
matching thresholds are applied to new requests without a restart.

Example:
  reconciler serve --config reconciler.yaml --addr :8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&fixturesFile, "fixtures", "", "JSON obligations/payments fixtures for the in-memory store")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := configWithFixtures()
	serverConfig := cfg.Server
	if serveAddr != "" {
		serverConfig.Addr = serveAddr
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	log := logger.GetGlobalLogger().WithComponent("serve")
	if activeViper != nil && activeViper.ConfigFileUsed() != "" {
		watchMatchingConfig(activeViper, rt.coordinator.Engine(), log)
	}

	server, err := api.New(rt.coordinator, rt.scorer, &serverConfig, log)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

// watchMatchingConfig re-reads the config file on change and swaps the
// matching configuration. An invalid file keeps the previous configuration.
func watchMatchingConfig(v *viper.Viper, engine *matcher.MatchingEngine, log logger.Logger) {
	v.OnConfigChange(func(e fsnotify.Event) {
		entry := log.WithFields(logger.Fields{"file": e.Name, "op": e.Op.String()})
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := config.Decode(v)
		if err != nil {
			entry.WithError(err).Warn("Ignoring invalid configuration change")
			return
		}

		matching := cfg.Matching
		if err := engine.UpdateConfiguration(&matching); err != nil {
			entry.WithError(err).Warn("Rejected matching configuration")
			return
		}
		entry.WithField("matching", matching.String()).Info("Matching configuration reloaded")
	})
	v.WatchConfig()
}
