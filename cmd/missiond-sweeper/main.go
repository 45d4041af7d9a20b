// Package main provides the lease sweeper: a periodic job that returns
// expired-lease runs to the pending pool. This is the system's only
// crash-recovery path, so exactly one sweeper should run per deployment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/missiond/missiond/pkg/cmd"
	"github.com/missiond/missiond/pkg/ledger"
	"github.com/missiond/missiond/pkg/log"
	"github.com/missiond/missiond/pkg/otelhelper"
)

func main() {
	logger := log.WithModule("sweeper")

	command := &cli.Command{
		Name:                  "missiond-sweeper",
		Usage:                 "Reclaim expired job run leases on a schedule",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "cron",
				Usage:   "Cron expression controlling sweep frequency",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SWEEP_CRON"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing missiond sweeper")

			tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "missiond-sweeper")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				if err := shutdownTracer(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, tracer)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			jobLedger := ledger.NewLedger(
				persistence,
				logger,
				ledger.ConfigFromEnv(),
				ledger.WithEventBus(eventBus),
				ledger.WithTracer(tracer),
			)

			scheduler := cron.New(cron.WithChain(
				cron.SkipIfStillRunning(cron.DefaultLogger),
				cron.Recover(cron.DefaultLogger),
			))

			_, err = scheduler.AddFunc(command.String("cron"), func() {
				reclaimed, sweepErr := jobLedger.ReclaimExpiredLeases(ctx)
				if sweepErr != nil {
					logger.Error("Lease sweep failed", "error", sweepErr)

					return
				}

				if reclaimed > 0 {
					logger.Info("Reclaimed expired leases", "count", reclaimed)
				}
			})
			if err != nil {
				return err
			}

			scheduler.Start()
			logger.InfoContext(ctx, "Sweeper started", "cron", command.String("cron"))

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-ctx.Done():
			case <-stop:
			}

			logger.InfoContext(ctx, "Stopping sweeper")
			<-scheduler.Stop().Done()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
