package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"connector/internal/broker"
	"connector/internal/constants"
	"connector/pkg/bootstrap"
	"connector/pkg/migrations"
)

const adminTimeout = 30 * time.Second

func migrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
			defer cancel()

			db, err := bootstrap.NewDatabaseConnector(cfg, log).InitPostgreSQL(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if down > 0 {
				if err := migrations.Down(db, down); err != nil {
					return err
				}
			} else if err := migrations.Up(db); err != nil {
				return err
			}

			version, dirty, err := migrations.Version(db)
			if err != nil {
				return err
			}
			log.Infow("Migrations applied", "version", version, "dirty", dirty)
			return nil
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "Roll back this many migrations instead of applying")
	return cmd
}

func dlqCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-letter queues",
	}
	cmd.PersistentFlags().IntVar(&limit, "limit", constants.DefaultLimit, "Maximum number of entries")

	cmd.AddCommand(&cobra.Command{
		Use:   "list <queue>",
		Short: "Print the dead-lettered envelopes of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDLQManager(cmd.Context(), func(ctx context.Context, m *broker.DLQManager) error {
				entries, err := m.List(ctx, args[0], limit)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "replay <queue>",
		Short: "Move dead-lettered envelopes back to their queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDLQManager(cmd.Context(), func(ctx context.Context, m *broker.DLQManager) error {
				n, err := m.Replay(ctx, args[0], limit)
				if err != nil {
					return err
				}
				fmt.Printf("replayed %d envelopes to %s\n", n, args[0])
				return nil
			})
		},
	})

	return cmd
}

func withDLQManager(parent context.Context, fn func(ctx context.Context, m *broker.DLQManager) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	producer, err := broker.NewProducer(cfg.Broker, log)
	if err != nil {
		return err
	}
	defer producer.Close()

	ctx, cancel := context.WithTimeout(parent, adminTimeout)
	defer cancel()
	return fn(ctx, broker.NewDLQManager(cfg.Broker.Kafka, producer, log))
}
