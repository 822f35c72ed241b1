package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/LiveTrack/config"
	"github.com/BearBump/LiveTrack/internal/auth"
	"github.com/BearBump/LiveTrack/internal/broker/kafka"
	"github.com/BearBump/LiveTrack/internal/broker/rabbitmq"
	"github.com/BearBump/LiveTrack/internal/cache"
	"github.com/BearBump/LiveTrack/internal/cache/rediscache"
	"github.com/BearBump/LiveTrack/internal/realtime"
	"github.com/BearBump/LiveTrack/internal/services/orders"
	"github.com/BearBump/LiveTrack/internal/services/tokens"
	"github.com/BearBump/LiveTrack/internal/services/tracking"
	"github.com/BearBump/LiveTrack/internal/storage/memorders"
	"github.com/BearBump/LiveTrack/internal/storage/pgorders"
	"github.com/google/uuid"
)

type orderStore interface {
	orders.Repository
	tracking.OrderStore
	Close()
}

type trackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackAPIOpts
	deps   trackAPIDeps

	closers []func()
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.deps)
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	lt := cfg.LiveTrack
	app := &trackAPIApp{}

	httpAddr := lt.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	instanceID := lt.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	snapshotTTL := time.Duration(lt.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 30 * time.Second
	}
	rateLimit := int64(lt.TrackingRateLimitPerMin)
	if rateLimit == 0 {
		rateLimit = 60
	}
	allowUntokened := true
	if lt.AllowUntokenedTracking != nil {
		allowUntokened = *lt.AllowUntokenedTracking
	}
	verifier, err := auth.NewVerifier(lt.JWTSecret)
	if err != nil {
		panic(fmt.Sprintf("livetrack.jwt_secret: %v", err))
	}

	checks := map[string]readinessCheck{}

	var st orderStore
	switch lt.Store {
	case "memory":
		slog.Warn("orders are kept in memory and lost on restart")
		st = memorders.New()
	case "", "postgres":
		pg := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
		checks["postgres"] = pg.Ping
		st = pg
	default:
		panic(fmt.Sprintf("unknown store %q", lt.Store))
	}
	app.closers = append(app.closers, st.Close)

	var (
		bytesCache cache.BytesCache
		limiter    cache.RateLimiter
	)
	if cfg.Redis.Host != "" {
		rc := rediscache.NewClient(rediscache.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisCache := rediscache.New(rc)
		bytesCache = redisCache
		limiter = rediscache.NewRateLimiter(rc)
		checks["redis"] = redisCache.Ping
		app.closers = append(app.closers, func() { _ = rc.Close() })
	} else {
		slog.Warn("redis is not configured: snapshot cache and tracking rate limit are off")
	}

	hub := realtime.NewHub(realtime.Options{Buffer: lt.SubscriberBuffer})

	var (
		pub      realtime.EventPublisher
		consumer eventConsumer
	)
	consumerGroup := lt.KafkaConsumerGroup
	switch lt.Broker {
	case "", "none":
	case "kafka":
		topic := cfg.Kafka.OrderEventsTopic
		if topic == "" {
			topic = kafka.DefaultTopic
		}
		if consumerGroup == "" {
			consumerGroup = "track-api"
		}
		// каждый инстанс читает все события, поэтому группа своя
		consumerGroup = consumerGroup + "-" + instanceID
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		producer := kafka.NewProducer(brokers, topic)
		cons := kafka.NewConsumer(brokers, topic, consumerGroup)
		pub, consumer = producer, cons
		app.closers = append(app.closers, func() { _ = cons.Close() }, func() { _ = producer.Close() })
	case "rabbitmq":
		exchange := cfg.RabbitMQ.Exchange
		if exchange == "" {
			exchange = rabbitmq.DefaultExchange
		}
		rmq, err := rabbitmq.Dial(cfg.RabbitMQ.URL, exchange)
		if err != nil {
			panic(fmt.Sprintf("rabbitmq is not reachable: %v", err))
		}
		pub, consumer = rmq, rmq
		app.closers = append(app.closers, func() { _ = rmq.Close() })
	default:
		panic(fmt.Sprintf("unknown broker %q", lt.Broker))
	}

	relay := realtime.NewRelay(hub, pub, instanceID)
	cached := tracking.NewCachedOrders(st, bytesCache, snapshotTTL)

	authority, err := tokens.New(lt.TrackingSecret, cached, tokens.Options{AllowUntokened: allowUntokened})
	if err != nil {
		panic(err.Error())
	}

	svc := orders.New(st, tracking.NewInvalidator(relay, cached), authority, orders.Options{
		TrackingBaseURL: lt.TrackingBaseURL,
		MaxAttempts:     lt.StatusUpdateMaxAttempts,
	})
	gateway := tracking.NewGateway(authority, hub, limiter, tracking.Options{
		RateLimit: rateLimit,
		SpeedKmh:  lt.AssumedSpeedKmh,
	})

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = trackAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   os.Getenv("swaggerPath"),
		broker:        lt.Broker,
		consumerGroup: consumerGroup,
	}
	app.deps = trackAPIDeps{
		orders:   svc,
		gateway:  gateway,
		hub:      hub,
		relay:    relay,
		verifier: verifier,
		consumer: consumer,
		checks:   checks,
	}
	return app
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgorders.Storage {
	if connString == "" {
		panic("database.host is required for the postgres store")
	}
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgorders.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
