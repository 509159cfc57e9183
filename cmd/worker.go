package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"harvest/internal/app"
	"harvest/internal/worker"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the extraction job worker",
	Long: `Consumes extraction jobs from the configured queue backend: the asynq server
for dispatch.backend=asynq, the RabbitMQ consumer for dispatch.backend=amqp.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		switch backend := appInstance.Config.Dispatch.Backend; backend {
		case "asynq":
			err = runAsynqWorker(ctx, appInstance)
		case "amqp":
			err = worker.NewConsumer(appInstance.MQ, appInstance.JobService, appInstance.Config.Dispatch.Concurrency).Run(ctx)
		default:
			return fmt.Errorf("dispatch.backend %q has no separate worker; jobs run inside `harvest serve`", backend)
		}
		if err != nil {
			log.WithError(err).Error("worker exited with error")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runAsynqWorker(ctx context.Context, appInstance *app.App) error {
	cfg := appInstance.Config

	srv := asynq.NewServer(
		appInstance.RedisOpt(),
		asynq.Config{
			Concurrency: cfg.Dispatch.Concurrency,
			Queues:      map[string]int{cfg.Dispatch.Queue: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.WithError(err).WithFields(log.Fields{
					"task_type": task.Type(),
					"payload":   string(task.Payload()),
				}).Error("asynq task failed")
			}),
			Logger: log.StandardLogger(),
		},
	)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, appInstance.JobService)

	log.WithFields(log.Fields{"concurrency": cfg.Dispatch.Concurrency, "queue": cfg.Dispatch.Queue}).Info("starting asynq worker server")
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, stopping asynq worker")
	srv.Shutdown()
	log.Info("worker shutdown complete")
	return nil
}
