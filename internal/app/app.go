// Package app wires configuration into the repositories, services and
// background plumbing shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/engagex/internal/config"
	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/distlock"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/queue"
	"github.com/ignite/engagex/internal/repository/postgres"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/delivery"
	"github.com/ignite/engagex/internal/service/sending"
	"github.com/ignite/engagex/internal/service/sendingdomain"
	"github.com/ignite/engagex/internal/tracking"
	"github.com/ignite/engagex/internal/trust"
	"github.com/ignite/engagex/internal/worker"
)

// DispatchQueue is the Redis list the API and scheduler feed and the
// dispatch workers drain.
const DispatchQueue = "engagex:dispatch"

var log = logger.With("component", "app")

// App holds the wired components. Redis, Links and SQS are nil when not
// configured.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	Queue  *queue.Queue
	Locks  *distlock.Factory
	Links  *tracking.Links
	SQS    *sqs.Client

	CampaignRepo *postgres.CampaignRepo
	DomainRepo   *postgres.DomainRepo

	Campaigns *campaign.Service
	Domains   *sendingdomain.Service
	Engine    *delivery.Engine
}

// New connects to Postgres and Redis and builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}

	a.Redis = connectRedis(ctx, cfg.Redis)
	if a.Redis != nil {
		a.Queue = queue.New(a.Redis, DispatchQueue, queue.WithVisibility(cfg.Delivery.QueueVisibility()))
	}
	a.Locks = distlock.NewFactory(a.Redis, db, cfg.Delivery.LockTTL())

	if cfg.Tracking.BaseURL != "" && cfg.Tracking.SigningKey != "" {
		a.Links = tracking.NewLinks(cfg.Tracking.BaseURL, cfg.Tracking.SigningKey)
	}
	if cfg.Tracking.SQSQueue != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Tracking.SQSRegion))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load aws config for sqs: %w", err)
		}
		a.SQS = sqs.NewFromConfig(awsCfg)
	}

	sender, err := newSender(ctx, cfg.SES)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.CampaignRepo = postgres.NewCampaignRepo(db)
	a.DomainRepo = postgres.NewDomainRepo(db)

	var engineOpts []delivery.Option
	engineOpts = append(engineOpts,
		delivery.WithWorkers(cfg.Delivery.Workers),
		delivery.WithBatchSize(cfg.Delivery.BatchSize),
	)
	if a.Links != nil {
		engineOpts = append(engineOpts, delivery.WithLinks(a.Links))
	}
	a.Engine = delivery.NewEngine(delivery.Deps{
		Campaigns:     a.CampaignRepo,
		Recipients:    postgres.NewRecipientRepo(db),
		Contacts:      postgres.NewContactRepo(db),
		Organizations: postgres.NewOrganizationRepo(db),
		Domains:       a.DomainRepo,
		Events:        postgres.NewEventRepo(db),
		Sender:        sender,
	}, engineOpts...)

	campaignOpts := []campaign.Option{campaign.WithStats(a.Engine)}
	if a.Queue != nil {
		campaignOpts = append(campaignOpts, campaign.WithDispatcher(a.Queue))
	}
	a.Campaigns = campaign.NewService(a.CampaignRepo, a.DomainRepo, campaignOpts...)

	publisher, err := newRecordPublisher(ctx, cfg.Trust)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Domains = sendingdomain.NewService(a.DomainRepo,
		trust.NewVerifier(newResolver(cfg.Trust), cfg.Trust.LookupTimeout()),
		publisher,
		trust.RecordPolicy{
			SPFInclude:   cfg.Trust.SPFInclude,
			RoutingHost:  cfg.Trust.RoutingHost,
			DKIMSelector: cfg.Trust.DKIMSelector,
		})

	return a, nil
}

// Close releases the connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn("close redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			log.Warn("close database", "error", err)
		}
	}
}

// connectRedis accepts a redis:// URL or a bare host:port. An unreachable
// Redis is not fatal: locks fall back to Postgres advisory locks and jobs
// are not queued.
func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		log.Info("redis not configured, using postgres advisory locks")
		return nil
	}
	opts, err := redis.ParseURL(cfg.Addr)
	if err != nil {
		opts = &redis.Options{Addr: cfg.Addr}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, using postgres advisory locks", "addr", opts.Addr, "error", err)
		client.Close()
		return nil
	}
	log.Info("redis connected", "addr", opts.Addr)
	return client
}

var errSESDisabled = errors.New("ses sending is disabled")

func newSender(ctx context.Context, cfg config.SESConfig) (sending.Sender, error) {
	if !cfg.Enabled {
		log.Warn("ses disabled, every dispatch will fail as provider unavailable")
		return sending.SenderFunc(func(context.Context, *domain.EmailMessage) (*domain.SendResult, error) {
			return nil, sending.Unavailable(errSESDisabled)
		}), nil
	}
	return worker.NewSESSender(ctx, cfg)
}

func newResolver(cfg config.TrustConfig) trust.Resolver {
	if cfg.UseSystemResolver {
		return trust.NewStdResolver()
	}
	return trust.NewResolver(trust.ResolverConfig{
		Nameservers: cfg.Nameservers,
		Timeout:     cfg.LookupTimeout(),
		Retries:     cfg.Retries,
	})
}

// newRecordPublisher returns nil, disabling publishing, when no hosted zone
// is configured.
func newRecordPublisher(ctx context.Context, cfg config.TrustConfig) (sendingdomain.RecordPublisher, error) {
	if cfg.Route53HostedZone == "" {
		return nil, nil
	}
	p, err := trust.NewRoute53Publisher(ctx, cfg.Route53Region, cfg.Route53HostedZone)
	if err != nil {
		return nil, fmt.Errorf("route53 publisher: %w", err)
	}
	return p, nil
}
