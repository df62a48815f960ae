package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2beens/trifecta/internal/auth"
	"github.com/2beens/trifecta/internal/config"
	"github.com/2beens/trifecta/internal/content"
	"github.com/2beens/trifecta/internal/db"
	"github.com/2beens/trifecta/internal/middleware"
	"github.com/2beens/trifecta/internal/telemetry/metrics"
	"github.com/2beens/trifecta/internal/telemetry/tracing"
)

// room for the multipart envelope and the other form fields around an image
const uploadBodySlack = 1 << 20

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
	rateLimiter middleware.RequestRateLimiter

	authService    *auth.Service
	contentService *content.Service

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	AdminPassword           string
	RedisPassword           string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	s := &Server{
		config: cfg,
	}

	var extraCollectors []prometheus.Collector
	if cfg.Storage == config.StoragePostgres {
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			TracingEnabled: params.HoneycombTracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		if err := db.ApplySchema(ctx, dbPool); err != nil {
			dbPool.Close()
			return nil, err
		}
		s.dbPool = dbPool

		extraCollectors = append(extraCollectors, pgxpoolprometheus.NewCollector(
			dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	}

	s.promRegistry = metrics.SetupPrometheus(extraCollectors...)
	s.metricsManager = metrics.NewManager("backend", "main", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0)

	if cfg.SessionStore == config.SessionStoreRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})

		rdbStatus := rdb.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}

		s.redisClient = rdb
		s.rateLimiter = redis_rate.NewLimiter(rdb)
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "trifecta", s.redisClient)
	if err != nil {
		s.closeStores()
		return nil, err
	}
	s.otelShutdown = otelShutdown

	s.authService = auth.NewService(auth.NewServiceParams{
		Users:    s.userRepo(),
		Sessions: s.sessionRepo(),
		TTL:      cfg.SessionTTL(),
		Metrics:  s.metricsManager,
	})
	if _, err := s.authService.EnsureAdmin(ctx, cfg.AdminUsername, params.AdminPassword); err != nil {
		s.closeStores()
		return nil, fmt.Errorf("ensure admin user: %w", err)
	}

	s.contentService = content.NewService(content.NewServiceParams{
		Repo:           s.contentRepo(),
		Metrics:        s.metricsManager,
		MaxUploadSize:  cfg.MaxUploadSizeBytes,
		ImageCacheSize: cfg.ImageCacheSize,
	})

	go s.authService.RunScanAndClean(ctx, cfg.SessionCleanInterval())

	return s, nil
}

func (s *Server) userRepo() auth.UserRepo {
	if s.dbPool != nil {
		return auth.NewPsqlUserRepo(s.dbPool)
	}
	return auth.NewMemoryUserRepo()
}

func (s *Server) sessionRepo() auth.SessionRepo {
	if s.redisClient != nil {
		return auth.NewRedisSessionRepo(s.redisClient)
	}
	return auth.NewMemorySessionRepo()
}

func (s *Server) contentRepo() content.Repo {
	if s.dbPool != nil {
		return content.NewPsqlRepo(s.dbPool)
	}
	return content.NewMemoryRepo()
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	authHandler := auth.NewHandler(s.authService)
	authHandler.SetupRoutes(r, s.rateLimiter, s.config.LoginRateLimitAllowedPerMin, s.metricsManager)

	contentHandler := content.NewHandler(s.contentService)
	contentHandler.SetupRoutes(r)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.Session(s.authService))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.LimitAndDrainRequest(s.config.MaxUploadSizeBytes + uploadBodySlack))

	return r
}

// Handler returns the routes of the service. CORS is checked in front of the router,
// so preflight requests never reach the route method matching.
func (s *Server) Handler() http.Handler {
	return middleware.Cors(s.config.AllowedOrigins)(s.routerSetup())
}

func (s *Server) Serve(host string, port int) {
	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		Addr:              ipAndPort,
		WriteTimeout:      time.Minute,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState:         s.connStateMetrics,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	if s.config.PrometheusMetricsPort != "" {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", otelhttp.NewHandler(
			promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
			"metrics",
		))
		metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
		s.metricsHttpServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsRouter,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Debugf(" > metrics listening on: [%s]", metricsAddr)
			err := s.metricsHttpServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("metrics service, listen and serve: %s", err)
			}
		}()
	} else {
		log.Debugln("metrics listener disabled")
	}

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	s.closeStores()

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) closeStores() {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeConnections.Inc()
	case http.StateClosed:
		s.metricsManager.GaugeConnections.Dec()
	default:
		// do nothing
	}
}
