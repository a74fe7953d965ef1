package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/qbank/internal/queue/streams"
	"github.com/mohammad-safakhou/qbank/internal/runtime"
	"github.com/mohammad-safakhou/qbank/internal/worker"
	"github.com/spf13/cobra"
)

func workerCMD() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued generation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := bootstrap()
			if err != nil {
				return err
			}
			defer lg.Sync()
			ctx, cancel := signalContext()
			defer cancel()

			tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceName: "qbank-worker"}, lg)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

			svc, err := runtime.Build(ctx, cfg, runtime.ModeStore, lg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if svc.Redis == nil {
				return errors.New("worker needs redis (storage.redis.host)")
			}
			if err := svc.Redis.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			registry, err := streams.DefaultRegistry()
			if err != nil {
				return err
			}
			if err := streams.EnsureGroup(ctx, svc.Redis, cfg.Queue.Stream, cfg.Queue.Group); err != nil {
				return fmt.Errorf("ensure group: %w", err)
			}
			if name == "" {
				name = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			}
			consumer := streams.NewConsumer(svc.Redis, registry, cfg.Queue.Group, name)
			p := worker.NewProcessor(consumer, svc.Store, svc.Pipeline, worker.Options{
				Stream: cfg.Queue.Stream,
				Block:  cfg.Queue.Block,
				Count:  cfg.Queue.Count,
			}, lg.Named("worker").With("consumer", name))
			return p.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "consumer name (default worker-<random>)")
	return cmd
}
