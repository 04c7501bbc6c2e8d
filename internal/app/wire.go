package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/deepsentinel/internal/blob/s3"
	"github.com/alanyoungcy/deepsentinel/internal/cache/redis"
	"github.com/alanyoungcy/deepsentinel/internal/config"
	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/metrics"
	"github.com/alanyoungcy/deepsentinel/internal/notify"
	"github.com/alanyoungcy/deepsentinel/internal/server/handler"
	"github.com/alanyoungcy/deepsentinel/internal/service"
	"github.com/alanyoungcy/deepsentinel/internal/store/postgres"
)

// Dependencies bundles the infrastructure shared by every mode. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	AgentStore       domain.AgentStore
	OpportunityStore domain.OpportunityStore
	TradeStore       domain.TradeStore
	ActivityStore    domain.ActivityStore

	// Redis
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Events   *service.EventService

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// HealthChecks are probed by GET /api/health.
	HealthChecks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Checker)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.AgentStore = postgres.NewAgentStore(pool)
	deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.ActivityStore = postgres.NewActivityStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		ClientName: "deepsentinel-" + cfg.Mode,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 archive (optional) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.TradeStore,
			deps.OpportunityStore,
			deps.ActivityStore,
			logger,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	deps.Events = service.NewEventService(service.EventStores{
		Agents:        deps.AgentStore,
		Opportunities: deps.OpportunityStore,
		Trades:        deps.TradeStore,
		Activity:      deps.ActivityStore,
	}, deps.SignalBus, deps.Notifier, logger)

	return deps, cleanup, nil
}
