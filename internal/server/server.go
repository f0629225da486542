package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/gema/internal/api"
	"github.com/victornm/gema/internal/event"
	"github.com/victornm/gema/internal/identity"
	"github.com/victornm/gema/internal/leaderboard"
	"github.com/victornm/gema/internal/participant"
	"github.com/victornm/gema/internal/quiz"
	"github.com/victornm/gema/internal/score"
	"github.com/victornm/gema/internal/session"
	"github.com/victornm/gema/internal/store"
	"github.com/victornm/gema/internal/store/postgres"
	"github.com/victornm/gema/internal/store/sqlite"
	"github.com/victornm/gema/internal/telemetry"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level string
	}

	Store struct {
		Driver   string
		Postgres postgres.Config
		SQLite   struct {
			Path string
		}
		// Migrate applies the embedded schema on start.
		Migrate bool
	}

	// Redis instances are optional; an empty Addrs disables the feature.
	Redis struct {
		Leaderboard RedisConfig
		Pubsub      RedisConfig
	}

	Auth struct {
		JWTSecret string
		TokenTTL  time.Duration
	}

	Leaderboard struct {
		PublishInterval time.Duration
	}
}

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

// DefaultConfig is a local setup on an SQLite file without Redis.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"
	c.Store.Driver = DriverSQLite
	c.Store.SQLite.Path = "gema.db"
	c.Store.Migrate = true
	c.Redis.Leaderboard.Prefix = "gema"
	c.Redis.Pubsub.Prefix = "gema"
	c.Auth.TokenTTL = 12 * time.Hour
	c.Leaderboard.PublishInterval = 200 * time.Millisecond
	return c
}

type Server struct {
	c Config

	eb      *event.Bus
	metrics *telemetry.Metrics

	infra struct {
		store store.Store

		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}
	}

	service struct {
		identity    *identity.Resolver
		quiz        *quiz.Service
		session     *session.Service
		participant *participant.Service
		score       *score.Service
		leaderboard *leaderboard.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
	s.metrics.Observe(s.eb)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

// OpenStore opens the configured store driver.
func OpenStore(ctx context.Context, c Config) (store.Store, error) {
	switch c.Store.Driver {
	case DriverPostgres:
		return postgres.Connect(ctx, c.Store.Postgres)
	case DriverSQLite, "":
		return sqlite.Open(ctx, c.Store.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

func (s *Server) initInfra() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := OpenStore(ctx, s.c)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	s.infra.store = st

	if s.c.Store.Migrate {
		if err := st.Migrate(ctx); err != nil {
			s.closeInfra()
			return fmt.Errorf("store: migrate: %w", err)
		}
	}

	if err := s.initRedis(); err != nil {
		s.closeInfra()
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(c RedisConfig) (redis.UniversalClient, error) {
		if len(c.Addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			_ = r.Close()
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			_ = r.Close()
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	var err error
	s.service.identity, err = identity.NewResolver(identity.Config{
		Secret: s.c.Auth.JWTSecret,
		TTL:    s.c.Auth.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	st := s.infra.store

	s.service.quiz = quiz.NewService(quiz.Config{
		Store: st,
	})

	s.service.session = session.NewService(session.Config{
		Store:    st,
		EventBus: s.eb,
	})

	s.service.participant = participant.NewService(participant.Config{
		Store:    st,
		EventBus: s.eb,
	})

	s.service.score = score.NewService(score.Config{
		Store:    st,
		EventBus: s.eb,
	})

	lc := leaderboard.Config{
		Store:           st,
		EventBus:        s.eb,
		Prefix:          s.c.Redis.Leaderboard.Prefix,
		PublishInterval: s.c.Leaderboard.PublishInterval,
	}
	if s.infra.redis.leaderboard != nil {
		lc.Redis = s.infra.redis.leaderboard
	}
	s.service.leaderboard = leaderboard.NewService(lc)

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(api.RequestLog(), s.metrics.HTTP(), gin.Recovery())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	pprof.Register(e, "/debug/pprof")

	ac := api.Config{
		Router:       e,
		EventBus:     s.eb,
		Identity:     s.service.identity,
		Quiz:         s.service.quiz,
		Session:      s.service.session,
		Participant:  s.service.participant,
		Score:        s.service.score,
		Leaderboard:  s.service.leaderboard,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	if s.infra.redis.pubsub != nil {
		ac.Redis = s.infra.redis.pubsub
	}
	api.New(ac)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
}

// Start serves HTTP and gRPC until Shutdown is called or either server fails.
func (s *Server) Start() error {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc server: listen: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
		return err
	}
	return nil
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.closeInfra()

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) closeInfra() {
	for name, r := range map[string]redis.UniversalClient{
		"leaderboard": s.infra.redis.leaderboard,
		"pubsub":      s.infra.redis.pubsub,
	} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			slog.Error("server: close redis failed", "redis", name, "error", err)
		}
	}

	if s.infra.store != nil {
		s.infra.store.Close()
	}
}
