package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/waggleapp/backend/internal/config"
	"github.com/waggleapp/backend/internal/domain/enums"
	"github.com/waggleapp/backend/internal/domain/rules"
	s3infra "github.com/waggleapp/backend/internal/infra/s3"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
	redisrepo "github.com/waggleapp/backend/internal/repo/redis"
	boostsvc "github.com/waggleapp/backend/internal/services/boost"
	complsvc "github.com/waggleapp/backend/internal/services/compliments"
	connsvc "github.com/waggleapp/backend/internal/services/connections"
	conssvc "github.com/waggleapp/backend/internal/services/consumables"
	entsvc "github.com/waggleapp/backend/internal/services/entitlements"
	feedsvc "github.com/waggleapp/backend/internal/services/feed"
	swipesvc "github.com/waggleapp/backend/internal/services/swipes"
	"github.com/waggleapp/backend/internal/services/userlock"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler

	// ConnectionService is exported through a getter for the sweep job.
	connections *connsvc.Service
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	var redisClient *goredis.Client
	var distLock *redisrepo.LockRepo
	if c, err := redisrepo.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Warn("redis init failed, user locks fall back to in-process", zap.Error(err))
	} else {
		redisClient = c
		distLock = redisrepo.NewLockRepo(c)
	}

	var photoSigner *s3infra.Signer
	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, feed photos served without urls", zap.Error(err))
	} else {
		photoSigner = s3infra.NewSigner(c, cfg.S3.Bucket)
	}

	swipeRepo := pgrepo.NewSwipeRepo(pool)
	quotaRepo := pgrepo.NewQuotaRepo(pool)
	pendingRepo := pgrepo.NewPendingRepo(pool)
	conversationRepo := pgrepo.NewConversationRepo(pool)
	consumableRepo := pgrepo.NewConsumableRepo(pool)
	boostRepo := pgrepo.NewBoostRepo(pool)
	entitlementRepo := pgrepo.NewEntitlementRepo(pool)
	feedRepo := pgrepo.NewFeedRepo(pool)

	var locker *userlock.Locker
	if distLock != nil {
		locker = userlock.New(distLock)
	} else {
		locker = userlock.New(nil)
	}

	entitlementService := entsvc.NewService(entitlementRepo, entsvc.Config{
		PlusPeriod: cfg.Matching.Plus.Period,
	})
	consumableService := conssvc.NewService(pool, consumableRepo, entitlementService, conssvc.Config{
		Allotments: map[enums.ConsumableKind]conssvc.Allotment{
			enums.ConsumableCompliment: {
				FreeIncluded: cfg.Matching.Consumables.FreeComplimentsIncluded,
				PlusIncluded: cfg.Matching.Consumables.PlusComplimentsIncluded,
				Period:       cfg.Matching.Consumables.ComplimentRenewal,
			},
			enums.ConsumableBoost: {
				FreeIncluded: cfg.Matching.Consumables.FreeBoostsIncluded,
				PlusIncluded: cfg.Matching.Consumables.PlusBoostsIncluded,
				Period:       cfg.Matching.Consumables.BoostRenewal,
			},
		},
	})

	pendingPolicy := rules.PendingPolicy{
		ChooserLane:     enums.Lane(cfg.Matching.Pending.ChooserLane),
		AutoResolveLane: enums.Lane(cfg.Matching.Pending.AutoResolveLane),
		TTL:             cfg.Matching.Pending.TTL,
	}
	connectionService := connsvc.NewService(pool, swipeRepo, pendingRepo, conversationRepo, log, connsvc.Config{
		Policy: pendingPolicy,
	})

	swipeService := swipesvc.NewService(pool, swipeRepo, quotaRepo, entitlementService, connectionService, locker, log, swipesvc.Config{
		Limits: rules.LimitTable{
			FreePalsPerDay:  cfg.Matching.Limits.FreePalsPerDay,
			FreeMatchPerDay: cfg.Matching.Limits.FreeMatchPerDay,
			PlusPalsPerDay:  cfg.Matching.Limits.PlusPalsPerDay,
			PlusMatchPerDay: cfg.Matching.Limits.PlusMatchPerDay,
		},
	})

	complimentService := complsvc.NewService(pool, swipeRepo, pendingRepo, conversationRepo, consumableService, connectionService, locker, log, complsvc.Config{})

	boostService := boostsvc.NewService(pool, boostRepo, consumableService, locker, log, boostsvc.Config{
		Duration: cfg.Matching.Boost.Duration,
	})

	var signer feedsvc.PhotoSigner
	if photoSigner != nil {
		signer = photoSigner
	}
	feedService := feedsvc.NewService(feedRepo, signer, log, feedsvc.Config{
		DefaultPageSize: cfg.Matching.Feed.DefaultPageSize,
		MaxPageSize:     cfg.Matching.Feed.MaxPageSize,
		PalsRadiusKm:    float64(cfg.Matching.Feed.PalsRadiusKM),
		MatchRadiusKm:   float64(cfg.Matching.Feed.MatchRadiusKM),
		PassCooldown:    cfg.Matching.Feed.PassCooldown,
		BoostOffset:     cfg.Matching.Feed.BoostOffset,
		PenaltyOffset:   cfg.Matching.Feed.PenaltyOffset,
		PhotoURLTTL:     cfg.Matching.Feed.PhotoURLTTL,
	})

	RegisterRoutes(r, Dependencies{
		SwipeService:       swipeService,
		ComplimentService:  complimentService,
		ConnectionService:  connectionService,
		ConsumableService:  consumableService,
		EntitlementService: entitlementService,
		BoostService:       boostService,
		FeedService:        feedService,
		Logger:             log,
		Config:             cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:         cfg,
		logger:      log,
		server:      server,
		postgres:    pool,
		redis:       redisClient,
		httpRouter:  r,
		connections: connectionService,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

// ConnectionService exposes the pending-connection service for the
// background sweep job.
func (a *App) ConnectionService() *connsvc.Service {
	return a.connections
}
