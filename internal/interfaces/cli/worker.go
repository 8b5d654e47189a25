package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/Opposition-Intelligence/internal/config"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/worker"
)

// NewWorkerCmd runs the Kafka ingestion consumer.
func NewWorkerCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume object-created events and ingest decided cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := cc.Config
			log := cc.Logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !skipMigrate {
				if err := postgres.RunMigrations(postgres.BuildDSN(cfg.Postgres.PostgresConfig)); err != nil {
					return err
				}
			}

			app, err := NewApp(ctx, cfg, log, appOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			orch, err := app.Ingester(ctx)
			if err != nil {
				return err
			}

			if cfg.Kafka.AutoCreateTopics {
				if err := ensureTopics(ctx, cfg, log); err != nil {
					return err
				}
			}

			producer, err := kafka.NewProducer(kafka.ProducerConfig{
				Brokers:          cfg.Kafka.Brokers,
				Acks:             cfg.Kafka.Acks,
				CompressionCodec: cfg.Kafka.Compression,
				Security:         cfg.Kafka.Security,
			}, log)
			if err != nil {
				return err
			}
			defer producer.Close()

			consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:         cfg.Kafka.Brokers,
				GroupID:         cfg.Kafka.GroupID,
				Topics:          []string{cfg.Kafka.ObjectCreatedTopic},
				AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
				HandlerTimeout:  cfg.Kafka.HandlerTimeout,
				DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
				Security:        cfg.Kafka.Security,
				Retry:           cfg.Retry,
			}, producer, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			handler := worker.NewHandler(orch, producer, []string{cfg.MinIO.Buckets.Raw}, log)
			consumer.Subscribe(cfg.Kafka.ObjectCreatedTopic, handler.Handle)
			app.Metrics.RegisterConsumerStats(cfg.Kafka.GroupID, consumer.Stats)

			if err := consumer.Start(ctx); err != nil {
				return err
			}
			watchLogLevel(cc)

			// Probes and metrics share the API port.
			errCh := make(chan error, 1)
			go func() { errCh <- runServer(ctx, app, probeRouterConfig(app)) }()

			select {
			case <-ctx.Done():
			case <-consumer.Done():
				log.Warn("Consumer stopped")
			case err := <-errCh:
				return err
			}
			log.Info("Worker stopping")
			stop()
			return <-errCh
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply database migrations on start")
	return cmd
}

func ensureTopics(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	tm, err := kafka.NewTopicManager(cfg.Kafka.Brokers, log)
	if err != nil {
		return err
	}
	defer tm.Close()
	return tm.EnsureTopics(ctx, kafka.DefaultTopics(cfg.Kafka.ReplicationFactor))
}
