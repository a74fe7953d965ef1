package cmd

import (
	"context"

	"github.com/mohammad-safakhou/qbank/internal/runtime"
	srv "github.com/mohammad-safakhou/qbank/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var addr string
	var migrate bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := bootstrap()
			if err != nil {
				return err
			}
			defer lg.Sync()
			if addr != "" {
				cfg.Server.Address = addr
			}
			ctx, cancel := signalContext()
			defer cancel()

			if migrate {
				dsn, err := runtime.BuildPostgresDSN(cfg)
				if err != nil {
					return err
				}
				if err := srv.Migrate(migrationsDir, dsn, "up", 0); err != nil {
					return err
				}
			}
			tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceName: "qbank-api"}, lg)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

			svc, err := runtime.Build(ctx, cfg, runtime.ModeStore, lg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			return srv.Run(ctx, cfg, svc, tel, lg.Named("server"))
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	serve.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return serve
}
