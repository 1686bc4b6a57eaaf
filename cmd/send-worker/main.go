// Package main is the entrypoint for the Send Worker Lambda function.
//
// The Send Worker consumes send jobs from the send queue, one message per
// (notification, recipient) pair, and runs each through the per-recipient
// pipeline: throttle precheck, parameter resolution, the attempt loop and
// result recording.
//
// Cold Start (main):
//  1. Load configuration (SSM secrets resolved outside APP_ENV=local).
//  2. Initialize structured logger.
//  3. Open the database pool and the throttle state backend.
//  4. Initialize SQS and CloudWatch clients.
//  5. Initialize the bot transport (stub when local).
//  6. Assemble the pipeline and register the handler with lambda.Start.
//
// Handler flow:
//
//	For each SQS message in the batch (at most SEND_BATCH_CONCURRENCY at once):
//	  1. Unmarshal the SendJob. Malformed bodies are logged and ACKed.
//	  2. Read ApproximateReceiveCount and SentTimestamp.
//	  3. Process through the pipeline.
//	  4. Deferred dispositions and faults are reported as batch item failures
//	     so SQS redelivers them; everything else is ACKed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"courier/internal/config"
	"courier/internal/db"
	"courier/internal/external"
	"courier/internal/pipeline"
	"courier/internal/throttle"
	"courier/internal/types"
)

// slogAdapter wraps *slog.Logger to implement types.Logger. slog.Logger.With
// returns *slog.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any) { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any) { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// Processor runs one delivery to a disposition. *pipeline.Pipeline
// implements it.
type Processor interface {
	Process(ctx context.Context, d pipeline.Delivery) (pipeline.Disposition, error)
}

// Handler holds the dependencies for the send worker Lambda handler.
type Handler struct {
	processor   Processor
	concurrency int
	logger      types.Logger
}

// Handle processes a batch using partial batch responses: only the messages
// listed in BatchItemFailures stay on the queue.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		mu       sync.Mutex
		response events.SQSEventResponse
		g        errgroup.Group
	)
	g.SetLimit(max(h.concurrency, 1))

	for _, record := range sqsEvent.Records {
		record := record
		g.Go(func() error {
			if h.processMessage(ctx, record) {
				return nil
			}
			mu.Lock()
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return response, nil
}

// processMessage reports whether the message should be deleted.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) bool {
	var job types.SendJob
	if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
		h.logger.Error("failed to unmarshal send job",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure: redelivery cannot help.
		return true
	}

	d := pipeline.Delivery{
		Job:           job,
		MessageID:     record.MessageId,
		ReceiptHandle: record.ReceiptHandle,
		DeliveryCount: receiveCount(record.Attributes),
	}
	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ts, err := parseMillisTimestamp(sent); err == nil {
			d.EnqueuedAt = ts
		}
	}

	ctx = types.WithRequestID(ctx, record.MessageId)
	disposition, err := h.processor.Process(ctx, d)
	if err != nil {
		h.logger.Error("failed to process SQS message",
			"message_id", record.MessageId,
			"delivery_count", d.DeliveryCount,
			"error", err.Error(),
		)
		return false
	}
	return disposition.Ack()
}

// receiveCount reads ApproximateReceiveCount, defaulting to 1.
func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs["ApproximateReceiveCount"])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// parseMillisTimestamp parses a millisecond-epoch string such as the SQS
// SentTimestamp attribute.
func parseMillisTimestamp(ms string) (time.Time, error) {
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis).UTC(), nil
}

func main() {
	handler, err := newHandler(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(handler.Handle)
}

// newHandler performs the cold start wiring.
func newHandler(ctx context.Context) (*Handler, error) {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Send Worker Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)
	typedLogger := &slogAdapter{logger: logger}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	state, err := newThrottleState(ctx, cfg, pool)
	if err != nil {
		return nil, err
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	publisher := pipeline.NewQueuePublisher(sqsClient, cfg.AWS.SendQueueURL, typedLogger)

	var metrics pipeline.Metrics = pipeline.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = pipeline.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, typedLogger)
	}

	transport := external.NewBotTransport(cfg, logger)
	clock := types.RealClock{}
	retryDelay := cfg.Send.RetryDelay()

	stages := pipeline.Stages{
		Precheck: pipeline.NewPrecheck(state, clock, retryDelay),
		Resolver: pipeline.NewResolver(
			db.NewNotificationRepository(pool),
			db.NewConversationRepository(pool),
			transport,
			cfg.Send.ContentCacheTTL,
			typedLogger,
		),
		Sender: pipeline.NewSender(transport, cfg.Send.AttemptTimeout,
			pipeline.WithRetryPolicy(pipeline.RetryPolicy{
				BaseDelay:     cfg.Send.AttemptBaseDelay,
				MaxDelay:      cfg.Send.AttemptMaxDelay,
				BackoffFactor: pipeline.DefaultRetryPolicy.BackoffFactor,
			}),
		),
		Delayer:    pipeline.NewDelayer(state, publisher, clock, retryDelay),
		Recorder:   pipeline.NewRecorder(db.NewResultRepository(pool), clock, cfg.Send.DeadLetterMaxDeliveryCount),
		Visibility: publisher,
	}
	p := pipeline.NewPipeline(stages, pipeline.Options{
		MaxAttempts: cfg.Send.MaxNumberOfAttempts,
		DeferMode:   pipeline.DeferMode(cfg.Send.DeferMode),
	}, metrics, clock, typedLogger)

	logger.Info("Send Worker Lambda initialized",
		"send_queue", cfg.AWS.SendQueueURL,
		"throttle_backend", cfg.Throttle.Backend,
		"defer_mode", cfg.Send.DeferMode,
		"max_attempts", cfg.Send.MaxNumberOfAttempts,
		"retry_delay", retryDelay.String(),
		"dead_letter_max_delivery_count", cfg.Send.DeadLetterMaxDeliveryCount,
		"batch_concurrency", cfg.Send.BatchConcurrency,
	)

	return &Handler{
		processor:   p,
		concurrency: cfg.Send.BatchConcurrency,
		logger:      typedLogger,
	}, nil
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func newThrottleState(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (pipeline.ThrottleState, error) {
	switch cfg.Throttle.Backend {
	case config.ThrottleBackendMemory:
		return throttle.NewMemory(), nil
	case config.ThrottleBackendRedis:
		state, _, err := throttle.NewRedisFromURL(ctx, cfg.Throttle.RedisURL.Unmask(), cfg.Throttle.Key)
		if err != nil {
			return nil, fmt.Errorf("connecting throttle state: %w", err)
		}
		return state, nil
	default:
		return db.NewThrottleRepository(pool, cfg.Throttle.Key), nil
	}
}

// newLogger creates a JSON slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

var (
	_ types.Logger = (*slogAdapter)(nil)
	_ Processor    = (*pipeline.Pipeline)(nil)
)
