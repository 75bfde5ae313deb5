package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-gateways/app/service"
	"github.com/vibast-solutions/ms-go-gateways/config"
)

var (
	workerMode bool
)

var pollStatusCmd = &cobra.Command{
	Use:   "poll-status",
	Short: "Poll processors for pending charges and record status changes",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"poll_status",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.StatusPollInterval },
			func(s *service.GatewayService, ctx context.Context) error {
				return s.RunStatusPollBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(pollStatusCmd)

	pollStatusCmd.Flags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.GatewayService, ctx context.Context) error,
) {
	cfg, gatewayService, cleanup := mustCreateGatewayService()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), gatewayService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(gatewayService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	gatewayService *service.GatewayService,
	fn func(s *service.GatewayService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(gatewayService, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(gatewayService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
