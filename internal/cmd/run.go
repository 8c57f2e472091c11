package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/config"
	"github.com/turbolytics/georep/internal/engine"
	"github.com/turbolytics/georep/internal/events"
	"github.com/turbolytics/georep/internal/lag"
	"github.com/turbolytics/georep/internal/server"
)

func newRunCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Runs the replication coordinator for a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("georep")

			l.Info("starting replication coordinator!")

			cfg, err := config.NewReplicationFromFile(viper.GetString("config"))
			if err != nil {
				return err
			}

			bus := events.NewBus(events.WithLogger(l.Named("events")))
			bus.SubscribeAll(func(ev events.Event) {
				l.Debug("event emitted",
					zap.String("kind", string(ev.Kind)),
					zap.Any("fields", ev.Fields))
			})

			e := engine.New(
				engine.WithLogger(l.Named("engine")),
				engine.WithBus(bus),
			)
			defer e.Cleanup()

			if err := e.Configure(cfg); err != nil {
				return err
			}

			if _, err := e.InitializeStreams(); err != nil {
				return err
			}

			if _, err := e.Syncer().InitialSync(ctx); err != nil {
				return err
			}

			if cfg.Encryption.Enabled && cfg.Encryption.RotationIntervalMs > 0 {
				interval := time.Duration(cfg.Encryption.RotationIntervalMs) * time.Millisecond
				if err := e.Crypto().StartKeyRotation(interval); err != nil {
					return err
				}
			}

			monitor := lag.New(
				lag.WithLogger(l.Named("lag")),
				lag.WithBus(bus),
			)
			monitor.SetConfig(cfg)
			defer monitor.Cleanup()

			go func() {
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						streams := e.Streams()
						infos, err := monitor.ReplicationLag(streams)
						if err != nil {
							continue
						}
						for _, info := range infos {
							monitor.CheckAlerts(info)
						}
						monitor.UpdateMetrics(e.Metrics(), streams)
					}
				}
			}()

			s := server.New(l.Named("server"), e, monitor)
			go func() {
				if err := s.Start(ctx, viper.GetString("listen")); err != nil {
					l.Error("replication server error", zap.Error(err))
				}
			}()

			<-ctx.Done()

			return nil
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to replication config file")
	cmd.Flags().StringP("listen", "", ":8080", "Address for the ops HTTP server")
	cmd.MarkFlagRequired("config")
	viper.BindPFlag("config", cmd.Flags().Lookup("config"))
	viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("GEOREP")
	return cmd
}
