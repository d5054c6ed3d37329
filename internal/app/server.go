// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tariff-service/internal/cache"
	"tariff-service/internal/config"
	"tariff-service/internal/db"
	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/events"
	"tariff-service/internal/pkg/clock"
	"tariff-service/internal/pkg/jwt"
	"tariff-service/internal/repository"
	"tariff-service/internal/repository/memory"
	"tariff-service/internal/repository/postgres"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	http      *http.Server
	container *Container
	pool      *pgxpool.Pool
	redis     redis.UniversalClient
	publisher events.Publisher
	stopHub   context.CancelFunc
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// Init wires storage, infrastructure clients, services and background jobs.
func (s *Server) Init(ctx context.Context) error {
	// ----- Storage -----
	store, err := s.openStore(ctx)
	if err != nil {
		return err
	}

	// ----- Redis -----
	var prices cache.PriceCache = cache.NopPriceCache{}
	if len(s.cfg.RedisAddrs) > 0 {
		s.redis, err = db.NewRedis(db.RedisConfig{
			ClusterMode: s.cfg.RedisCluster,
			Addresses:   s.cfg.RedisAddrs,
			Password:    s.cfg.RedisPass,
			DB:          0,
			PoolSize:    10,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		prices = cache.NewRedisPriceCache(s.redis, s.cfg.PriceCacheTTL)
		s.logger.Info("redis price cache enabled", zap.Strings("addrs", s.cfg.RedisAddrs))
	}

	// ----- Events -----
	s.publisher = events.Nop{}
	if len(s.cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(s.cfg.KafkaBrokers, s.cfg.KafkaTopic, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		s.publisher = kp
		s.logger.Info("kafka publisher enabled", zap.String("topic", s.cfg.KafkaTopic))
	}

	// ----- JWT Verifier -----
	verifier, err := jwt.LoadVerifier(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT verifier: %w", err)
	}

	// ----- Metrics -----
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ----- Services -----
	s.container, err = newContainer(s.cfg, Infra{
		Store:     store,
		Prices:    prices,
		Publisher: s.publisher,
		Verifier:  verifier,
		Clock:     clock.Real(),
		Registry:  registry,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}

	if err := ensureDemoTariff(ctx, s.container.Catalog, s.logger); err != nil {
		return fmt.Errorf("failed to ensure demo tariff: %w", err)
	}

	// ----- Background -----
	hubCtx, cancel := context.WithCancel(context.Background())
	s.stopHub = cancel
	go s.container.Hub.Run(hubCtx)
	s.container.Scheduler.Start()

	// ----- Router -----
	SetupRouter(s.engine, s.logger, s.container.Handlers)

	// ----- HTTP -----
	s.http = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Run serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("server running",
		zap.String("addr", s.cfg.HTTPAddr),
		zap.String("storage", s.cfg.StorageDriver),
		zap.String("renewal_mode", s.cfg.RenewalMode),
	)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) openStore(ctx context.Context) (repository.Store, error) {
	switch s.cfg.StorageDriver {
	case config.StorageDriverMemory:
		s.logger.Warn("using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		store.PutCategory(tariff.Category{ID: 1, Name: "General"})
		store.PutLocation(tariff.Location{ID: 1, Name: "Default"})
		return store, nil
	case config.StorageDriverPostgres:
		pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s.pool = pool
		return postgres.NewStore(postgres.NewDB(pool)), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", s.cfg.StorageDriver)
	}
}

// Shutdown stops accepting requests, waits for running jobs and releases connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.container != nil {
		if err := s.container.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
	}
	if s.stopHub != nil {
		s.stopHub()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}

	return errors.Join(errs...)
}
