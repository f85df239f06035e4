package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"

	"azaan/internal/app"
	"azaan/internal/awsutil"
	"azaan/internal/config"
	"azaan/internal/delivery"
	"azaan/internal/httpserver"
	"azaan/internal/lease"
	"azaan/internal/logging"
	"azaan/internal/observability"
	sqsqueue "azaan/internal/queue/sqs"
	"azaan/internal/scheduler"
	"azaan/internal/tokencache"
	"azaan/internal/worker"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("worker config invalid", "err", err)
		os.Exit(1)
	}
	log := logging.Init("worker", cfg.LogFormat, cfg.LogLevel)

	// Use a root ctx we can cancel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := cfg.Engine()
	if err != nil {
		log.Error("worker location invalid", "err", err)
		os.Exit(1)
	}

	st, closeStore, err := app.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("worker store init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	observability.Register(prometheus.DefaultRegisterer)

	transport, err := app.NewTransport(ctx, cfg.Push, log)
	if err != nil {
		log.Error("worker push transport init failed", "err", err, "driver", cfg.Push.Driver)
		os.Exit(1)
	}

	checks := []httpserver.ReadyzCheck{st.Ping}

	var locker lease.Locker
	if cfg.RedisURL != "" {
		rl, rdb, err := lease.NewRedis(ctx, cfg.RedisURL, cfg.LeaseTTL)
		if err != nil {
			log.Error("redis not reachable", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = rl
		checks = append(checks, func(c context.Context) error { return rdb.Ping(c).Err() })
	}

	var sqsClient *sqs.Client
	if cfg.SQSTickQueueURL != "" || cfg.SQSOutcomeQueueURL != "" {
		sqsClient, err = awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			log.Error("worker sqs client init failed", "err", err)
			os.Exit(1)
		}
	}

	cache := tokencache.New(st, cfg.TokenCacheTTL, log)
	batcher := &delivery.Batcher{
		Transport:        transport,
		Ledger:           st,
		Tokens:           cache,
		Logger:           log,
		ChunkSize:        cfg.ChunkSize,
		ChunkConcurrency: cfg.ChunkConcurrency,
		BodyTemplate:     cfg.BodyTemplate,
	}
	processor := &worker.Processor{
		Store:      st,
		Recipients: cache,
		Sender:     batcher,
		Lease:      locker,
		Window:     cfg.DispatchWindow,
		Location:   eng.Location,
		Logger:     log,
	}
	if cfg.SQSOutcomeQueueURL != "" {
		processor.Outcomes = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSOutcomeQueueURL}
	}
	sweeper := &scheduler.Sweeper{
		Store:            st,
		QueueRetention:   cfg.QueueRetention,
		HistoryRetention: cfg.HistoryRetention,
		Logger:           log,
	}
	runner := &scheduler.Runner{
		Days:         eng,
		Materializer: &scheduler.Materializer{Engine: eng, Queue: st, Logger: log},
		Processor:    processor,
		Sweeper:      sweeper,
		Pending:      st,
		Interval:     cfg.TickInterval,
		Window:       cfg.DispatchWindow,
		Logger:       log,
	}

	if cfg.RunMode == config.RunOnce {
		rep, err := runner.Tick(ctx, time.Now())
		batcher.Wait()
		log.Info("worker tick finished",
			"materialized", rep.Materialized,
			"sent", rep.Dispatch.Sent,
			"failed", rep.Dispatch.Failed,
			"queue_deleted", rep.Cleanup.QueueDeleted,
			"history_deleted", rep.Cleanup.HistoryDeleted,
		)
		if err != nil {
			log.Error("worker tick failed", "err", err)
			closeStore()
			os.Exit(1)
		}
		return
	}

	if cfg.RunMode == config.RunSQS {
		checks = append(checks, func(c context.Context) error {
			_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
				QueueUrl:       &cfg.SQSTickQueueURL,
				AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
			})
			return err
		})
	}

	// health server (liveness + readiness, optionally the API)
	var api *httpserver.API
	if cfg.ServeAPI {
		deps := app.APIDeps{
			Store:     st,
			Engine:    eng,
			Transport: transport,
			Sweeper:   sweeper,
			Cache:     cache,
			Started:   time.Now(),
			Logger:    log,
		}
		if cfg.SQSTickQueueURL != "" {
			deps.Ticks = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSTickQueueURL}
		}
		api = app.NewAPI(deps)
	}
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: app.NewRouter(api, checks...)}
	metricsSrv := httpserver.NewMetrics(":" + cfg.MetricsPort)

	healthErrCh := make(chan error, 1)
	go func() {
		log.Info("worker health listening", "port", cfg.Port, "api", cfg.ServeAPI)
		healthErrCh <- healthSrv.ListenAndServe()
	}()
	metricsErrCh := make(chan error, 1)
	go func() {
		log.Info("worker metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	loopErrCh := make(chan error, 1)
	go func() {
		if cfg.RunMode == config.RunSQS {
			consumer := &sqsqueue.Consumer{
				SQS:               sqsClient,
				QueueURL:          cfg.SQSTickQueueURL,
				Logger:            log,
				WaitTimeSeconds:   cfg.SQSWaitTime,
				MaxMessages:       cfg.SQSMaxMsgs,
				VisibilityTimeout: cfg.SQSVizTimeout,
			}
			log.Info("worker starting poll", "queue_url", cfg.SQSTickQueueURL)
			loopErrCh <- consumer.Poll(ctx, runner.HandleTrigger)
			return
		}
		log.Info("worker starting loop", "interval", cfg.TickInterval, "window", cfg.DispatchWindow)
		loopErrCh <- runner.Run(ctx)
	}()

	// shutdown wiring
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	loopDone := false
	select {
	case err := <-loopErrCh:
		loopDone = true
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("worker loop failed", "err", err)
			exitCode = 1
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("worker health server failed", "err", err)
			exitCode = 1
		}
	case err := <-metricsErrCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("worker metrics server failed", "err", err)
			exitCode = 1
		}
	case sig := <-sigCh:
		log.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	if !loopDone {
		select {
		case <-loopErrCh:
		case <-time.After(10 * time.Second):
			log.Info("worker shutdown timeout waiting for loop")
		}
	}
	batcher.Wait()

	if exitCode != 0 {
		closeStore()
		os.Exit(exitCode)
	}
}
