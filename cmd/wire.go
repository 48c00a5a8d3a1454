package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/api"
	"github.com/repchat/internal/api/auth"
	"github.com/repchat/internal/assistant"
	"github.com/repchat/internal/audit"
	"github.com/repchat/internal/bridge"
	"github.com/repchat/internal/changefeed"
	"github.com/repchat/internal/chat"
	"github.com/repchat/internal/config"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/database"
	"github.com/repchat/internal/handoff"
	"github.com/repchat/internal/jobqueue"
	"github.com/repchat/internal/notify"
	"github.com/repchat/internal/reps"
	"github.com/repchat/internal/sales"
	"github.com/repchat/internal/twilio"
)

// app holds the wired services for one process.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	rdb      *redis.Client
	feed     changefeed.Feed
	locker   jobqueue.Locker
	repCache *reps.Cache
	chat     *chat.Service
	handoff  *handoff.Coordinator
	sales    *sales.Service
	merger   *conversation.Merger
	queue    *jobqueue.JobQueue
	tokens   *auth.TokenService
}

// buildApp wires stores, side-effect clients and services from cfg. The queue
// is only built when withQueue is set and jobs are enabled.
func buildApp(ctx context.Context, cfg *config.Config, withQueue bool) (*app, error) {
	a := &app{cfg: cfg}

	var (
		convs     conversation.Store
		saleStore sales.Store
		sink      audit.Sink
		repDir    reps.Directory
	)
	if cfg.Database.URL != "" {
		db, err := database.NewDB(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		convs = conversation.NewPostgresStore(db)
		saleStore = sales.NewPostgresStore(db)
		sink = audit.NewPostgresSink(db)
		repDir = reps.NewPostgresStore(db)
	} else {
		log.Warn().Msg("No database url configured, using in-memory stores")
		convs = conversation.NewInMemoryStore()
		saleStore = sales.NewMemoryStore()
		sink = audit.NewMemorySink()
		repDir = reps.NewMemoryStore()
	}

	a.repCache = reps.NewCache(cfg.Cache.RepTTL, time.Now)
	directory := reps.NewCachedDirectory(repDir, a.repCache)

	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.close()
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.rdb = rdb
		a.feed = changefeed.NewRedisFeed(rdb)
		a.locker = jobqueue.NewRedisLocker(rdb)
	} else {
		a.feed = changefeed.NewHub()
		a.locker = jobqueue.NewLocalLocker()
	}

	a.sales = sales.NewService(saleStore, convs, sink, directory,
		sales.WithPolicy(cfg.Detection.Policy()),
		sales.WithPublisher(a.feed),
	)

	chatOpts := []chat.Option{
		chat.WithDetector(a.sales),
		chat.WithPublisher(a.feed),
		chat.WithSideEffectTimeout(cfg.Timeouts.SideEffect),
	}
	handoffOpts := []handoff.Option{
		handoff.WithPublisher(a.feed),
		handoff.WithTimeout(cfg.Timeouts.SideEffect),
	}

	if cfg.Twilio.Enabled() {
		client := twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
		br := bridge.New(client, cfg.Twilio.ConversationsURL, cfg.Twilio.ProxyAddress)
		chatOpts = append(chatOpts, chat.WithRelay(br))
		handoffOpts = append(handoffOpts,
			handoff.WithBridge(br),
			handoff.WithNotifier(notify.NewSMS(client, cfg.Twilio.MessagesURL, cfg.Twilio.MessagingFrom)),
		)
	} else {
		log.Warn().Msg("Twilio not configured, transfers will not provision bridges and rep alerts are only logged")
		handoffOpts = append(handoffOpts, handoff.WithNotifier(notify.LogOnly{}))
	}

	if cfg.AI.Enabled() {
		model, err := assistant.NewModel(ctx, cfg.AI)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize assistant: %w", err)
		}
		chatOpts = append(chatOpts, chat.WithAssistant(assistant.NewResponder(model, cfg.AI)))
	} else {
		log.Info().Msg("Assistant disabled, AI-mode conversations will not get automatic replies")
	}

	a.chat = chat.NewService(convs, chatOpts...)
	a.handoff = handoff.NewCoordinator(convs, handoffOpts...)
	a.merger = conversation.NewMerger(convs,
		conversation.WithReassigner(a.sales),
		conversation.WithConcurrency(cfg.Jobs.MergeConcurrency),
	)
	a.tokens = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	if withQueue && cfg.Jobs.Enabled {
		qcfg := jobqueue.DefaultQueueConfig().WithMaxWorkers(cfg.Jobs.MaxWorkers)
		worker := jobqueue.NewMergeDuplicatesWorker(a.merger, a.locker, qcfg)
		jq, err := jobqueue.NewJobQueue(ctx, cfg.Database.URL, worker, qcfg)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := jq.Migrate(ctx); err != nil {
			a.close()
			return nil, err
		}
		a.queue = jq
	}

	return a, nil
}

// deps exposes the wired services to the HTTP layer.
func (a *app) deps() api.Deps {
	d := api.Deps{
		Chat:         a.chat,
		Handoff:      a.handoff,
		Sales:        a.sales,
		Merger:       a.merger,
		Feed:         a.feed,
		Tokens:       a.tokens,
		AllowOrigins: a.cfg.Server.AllowOrigins,
		Twilio: api.TwilioWebhook{
			AuthToken:  a.cfg.Twilio.AuthToken,
			WebhookURL: a.cfg.Twilio.WebhookURL,
		},
		Ready: a.ready,
	}
	if a.queue != nil {
		d.Queue = a.queue
	}
	return d
}

func (a *app) ready(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// purgeRepCache drops expired rep entries until ctx is done.
func (a *app) purgeRepCache(ctx context.Context) {
	ttl := a.cfg.Cache.RepTTL
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.repCache.Purge(); n > 0 {
				log.Debug().Int("purged", n).Msg("Purged expired rep cache entries")
			}
		}
	}
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
