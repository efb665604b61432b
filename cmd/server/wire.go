package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"regdesk/internal/conversation"
	convmetrics "regdesk/internal/conversation/metrics"
	"regdesk/internal/conversation/state"
	"regdesk/internal/conversation/workers/cleanup"
	"regdesk/internal/images"
	"regdesk/internal/llm"
	"regdesk/internal/notify"
	"regdesk/internal/notify/outbox"
	outboxmetrics "regdesk/internal/notify/outbox/metrics"
	"regdesk/internal/payments"
	paymetrics "regdesk/internal/payments/metrics"
	"regdesk/internal/platform/config"
	"regdesk/internal/platform/database"
	"regdesk/internal/platform/health"
	"regdesk/internal/platform/kafka"
	"regdesk/internal/platform/kafka/consumer"
	"regdesk/internal/platform/kafka/producer"
	"regdesk/internal/platform/redis"
	"regdesk/internal/platform/tracer"
	"regdesk/internal/records"
	"regdesk/internal/reminder"
	httptransport "regdesk/internal/transport/http"
	"regdesk/internal/verification"
	vermetrics "regdesk/internal/verification/metrics"
	"regdesk/internal/verification/ocr"
	"regdesk/migrations"
	"regdesk/pkg/platform/circuit"
	request "regdesk/pkg/platform/middleware/request"
	"regdesk/pkg/platform/sync"
)

// worker is a background loop run until ctx is cancelled.
type worker func(ctx context.Context) error

type app struct {
	router  http.Handler
	workers map[string]worker
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// build constructs every collaborator. Optional infrastructure (Postgres, Redis,
// Kafka, AWS) is only dialled when configured; otherwise the in-process
// fallback is used.
func build(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *app, err error) {
	a := &app{workers: map[string]worker{}}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	checks := health.New(cfg.Environment)

	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		a.onClose(func() { _ = pool.Close() })
		checks.RegisterCheck("database", pool.Health)
		a.workers["db-pool-stats"] = func(ctx context.Context) error {
			return pool.RunStats(ctx, 15*time.Second)
		}
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(cfg.Database.URL, migrations.FS); err != nil {
				return nil, err
			}
		}
	}

	store, err := buildRecords(cfg, pool)
	if err != nil {
		return nil, err
	}

	sessions, err := buildSessions(ctx, a, cfg, checks, log)
	if err != nil {
		return nil, err
	}

	publisher, prod, err := buildPublisher(ctx, a, cfg, pool, checks, log)
	if err != nil {
		return nil, err
	}

	var awsCfg *aws.Config
	if cfg.Storage.S3Bucket != "" || cfg.OCR.CloudEnabled {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.OCR.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &loaded
	}

	imageSvc, err := buildImages(cfg, awsCfg, log)
	if err != nil {
		return nil, err
	}

	locks := sync.NewShardedMutex()
	verifier, err := buildVerifier(cfg, awsCfg, imageSvc, store, locks, log)
	if err != nil {
		return nil, err
	}

	paySvc := payments.New(store,
		payments.WithVenueMarker(cfg.Payments.VenueMarker),
		payments.WithLocks(locks),
		payments.WithMetrics(paymetrics.New()),
		payments.WithTracer(tracer.NewOTel("regdesk/payments")),
		payments.WithLogger(log),
	)
	if prod != nil {
		cons, err := consumer.New(consumer.Config{
			Brokers:     cfg.Kafka.Brokers,
			GroupID:     cfg.Kafka.GroupID,
			Topics:      []string{cfg.Kafka.PaymentsTopic},
			MaxAttempts: 1,
		}, payments.NewNotificationHandler(paySvc, publisher, log), log)
		if err != nil {
			return nil, err
		}
		a.workers["payment-consumer"] = cons.Run
	}

	catalog, err := conversation.LoadCatalog(cfg.CoursesFile)
	if err != nil {
		return nil, err
	}
	breakerLog := func(name string, from, to circuit.State) {
		log.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		llm.WithBreaker(circuit.New("llm", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second), circuit.WithStateChange(breakerLog))),
	)
	convOpts := []conversation.Option{
		conversation.WithPublisher(publisher),
		conversation.WithMaxUploads(cfg.MaxUploads),
		conversation.WithMetrics(convmetrics.New()),
		conversation.WithTracer(tracer.NewOTel("regdesk/conversation")),
		conversation.WithLogger(log),
	}
	if cfg.LLM.BaseURL != "" {
		convOpts = append(convOpts, conversation.WithChatter(llmClient))
	}
	machine := conversation.New(sessions, store, catalog, verifier, convOpts...)

	var chat httptransport.ChatService = machine
	switch cfg.Orchestrator {
	case "fsm", "":
	case "assistant":
		if cfg.LLM.BaseURL == "" {
			return nil, fmt.Errorf("ORCHESTRATOR=assistant requires LLM_BASE_URL")
		}
		chat = conversation.NewAssistant(sessions, store, catalog, verifier, llmClient, convOpts...)
	default:
		return nil, fmt.Errorf("unknown orchestrator %q", cfg.Orchestrator)
	}

	rem := reminder.New(store, publisher,
		reminder.Contacts{PR: cfg.Reminder.PRContact, NonPR: cfg.Reminder.NonPRContact},
		reminder.WithSchedule(cfg.Reminder.Schedule),
		reminder.WithLogger(log),
	)
	a.workers["payment-reminder"] = rem.Start

	handler := httptransport.NewHandler(chat, imageSvc, log,
		httptransport.WithPayments(paySvc, publisher),
		httptransport.WithAdmin(store, machine),
		httptransport.WithMaxUploadBytes(cfg.OCR.MaxImageBytes),
	)
	a.router = httptransport.NewRouter(handler, httptransport.RouterConfig{
		AdminToken: cfg.AdminToken,
		Metrics:    request.NewMetrics(),
		Health:     checks,
	}, log)
	return a, nil
}

func buildRecords(cfg config.Server, pool *database.Pool) (records.Store, error) {
	switch cfg.Records.Backend {
	case "memory", "":
		return records.NewInMemoryStore(), nil
	case "csv":
		csv, err := records.NewCSVStore(cfg.Records.CSVPath)
		if err != nil {
			return nil, err
		}
		return csv, nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("RECORDS_BACKEND=postgres requires DATABASE_URL")
		}
		return records.NewPostgresStore(pool.DB()), nil
	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.Records.Backend)
	}
}

func buildSessions(ctx context.Context, a *app, cfg config.Server, checks *health.Handler, log *slog.Logger) (state.Store, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client != nil {
		a.onClose(func() { _ = client.Close() })
		checks.RegisterCheck("redis", client.Health)
		a.workers["redis-pool-stats"] = func(ctx context.Context) error {
			return client.RunPoolStats(ctx, 15*time.Second)
		}
		return state.NewRedisStore(client.Client, cfg.SessionTTL), nil
	}

	mem := state.NewInMemoryStore(cfg.SessionTTL)
	sweeper, err := cleanup.New(mem,
		cleanup.WithCleanupInterval(cfg.Reminder.CleanupPeriod),
		cleanup.WithCleanupLogger(log),
	)
	if err != nil {
		return nil, err
	}
	a.workers["session-cleanup"] = sweeper.Start
	return mem, nil
}

// buildPublisher picks the notification path: outbox relayed to Kafka when both
// Postgres and a broker are configured, direct Kafka writes with a broker only,
// and structured logs otherwise.
func buildPublisher(ctx context.Context, a *app, cfg config.Server, pool *database.Pool, checks *health.Handler, log *slog.Logger) (*notify.Publisher, *producer.Producer, error) {
	if cfg.Kafka.Brokers == "" {
		pub := notify.NewPublisher(notify.NewLogSink(log), notify.WithPublisherLogger(log))
		return pub, nil, nil
	}

	admin, err := kafka.NewAdmin(cfg.Kafka.Brokers)
	if err != nil {
		return nil, nil, err
	}
	a.onClose(admin.Close)
	checks.RegisterCheck("kafka", admin.Check)
	if err := admin.EnsureTopics(ctx, 3, 1, cfg.Kafka.PaymentsTopic, cfg.Kafka.NotificationsTopic); err != nil {
		log.Warn("could not ensure kafka topics", "error", err)
	}

	prod, err := producer.New(producer.Config{
		Brokers:         cfg.Kafka.Brokers,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	a.onClose(func() { _ = prod.Close() })

	if pool == nil {
		pub := notify.NewPublisher(notify.NewKafkaSink(prod, cfg.Kafka.NotificationsTopic),
			notify.WithAsyncBuffer(256),
			notify.WithPublisherLogger(log),
		)
		a.onClose(pub.Close)
		return pub, prod, nil
	}

	outboxStore := outbox.NewPostgresStore(pool.DB())
	relay := outbox.NewRelay(outboxStore, prod, cfg.Kafka.NotificationsTopic,
		outbox.WithMetrics(outboxmetrics.New()),
		outbox.WithLogger(log),
	)
	a.workers["notification-relay"] = relay.Start
	return notify.NewPublisher(outbox.NewSink(outboxStore), notify.WithPublisherLogger(log)), prod, nil
}

func buildImages(cfg config.Server, awsCfg *aws.Config, log *slog.Logger) (*images.Service, error) {
	var store images.Store
	if cfg.Storage.S3Bucket != "" {
		store = images.NewS3Store(s3.NewFromConfig(*awsCfg), cfg.Storage.S3Bucket, cfg.OCR.MaxImageBytes)
	} else {
		local, err := images.NewLocalStore(cfg.Storage.UploadDir)
		if err != nil {
			return nil, err
		}
		store = local
	}
	return images.New(store, images.NewRefSigner(cfg.Storage.SigningKey, cfg.Storage.RefTTL),
		images.WithMaxBytes(cfg.OCR.MaxImageBytes),
		images.WithLogger(log),
	), nil
}

func buildVerifier(cfg config.Server, awsCfg *aws.Config, imageSvc *images.Service, store records.Store, locks *sync.ShardedMutex, log *slog.Logger) (*verification.Service, error) {
	local := ocr.NewLocalProvider(cfg.OCR.LocalURL, ocr.WithMaxSide(cfg.OCR.MaxImageDimSide))
	opts := []verification.Option{
		verification.WithLocks(locks),
		verification.WithOCRTimeout(cfg.OCR.Timeout),
		verification.WithMetrics(vermetrics.New()),
		verification.WithTracer(tracer.NewOTel("regdesk/verification")),
		verification.WithLogger(log),
	}
	if cfg.OCR.CloudEnabled {
		breaker := circuit.New("textract",
			circuit.WithFailureThreshold(3),
			circuit.WithCooldown(time.Minute),
			circuit.WithStateChange(func(name string, from, to circuit.State) {
				log.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			}),
		)
		cloud, err := ocr.NewCached(
			ocr.NewGuarded(ocr.NewTextractProvider(textract.NewFromConfig(*awsCfg), cfg.OCR.MaxImageDimSide), breaker),
			256,
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, verification.WithCloudProvider(cloud))
	}
	return verification.New(imageSvc, local, store, opts...), nil
}
