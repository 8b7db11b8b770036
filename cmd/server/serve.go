package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vedran77/ideahub/internal/auth"
	"github.com/vedran77/ideahub/internal/config"
	"github.com/vedran77/ideahub/internal/database"
	"github.com/vedran77/ideahub/internal/logger"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/ratelimit"
	"github.com/vedran77/ideahub/internal/repository"
	"github.com/vedran77/ideahub/internal/repository/memory"
	postgresrepo "github.com/vedran77/ideahub/internal/repository/postgres"
	"github.com/vedran77/ideahub/internal/service"
	"github.com/vedran77/ideahub/internal/transport/http/handlers"
	"github.com/vedran77/ideahub/internal/transport/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger.New(cfg.LogLevel))
	},
}

// stores is the persistence backend chosen by config.
type stores struct {
	projects repository.ProjectRepository
	requests repository.JoinRequestRepository
	users    repository.UserRepository
	messages repository.MessageRepository
	tx       repository.Transactor
	ready    func(r *http.Request) error
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		s := memory.NewStore()
		return &stores{
			projects: s.Projects(),
			requests: s.JoinRequests(),
			users:    s.Users(),
			messages: s.Messages(),
			tx:       s,
			close:    func() {},
		}, nil
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("connected to database", "host", cfg.DBHost, "name", cfg.DBName)
	return &stores{
		projects: postgresrepo.NewProjectRepo(pool),
		requests: postgresrepo.NewJoinRequestRepo(pool),
		users:    postgresrepo.NewUserRepo(pool),
		messages: postgresrepo.NewMessageRepo(pool),
		tx:       postgresrepo.NewTransactor(pool),
		ready:    func(r *http.Request) error { return pool.Ping(r.Context()) },
		close:    pool.Close,
	}, nil
}

func openJoinLimiter(ctx context.Context, cfg *config.Config, log *slog.Logger) (ratelimit.Limiter, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemory(cfg.JoinRequestLimit, cfg.JoinRequestWindow), nil
	}
	limiter, err := ratelimit.NewRedis(ctx, cfg.RedisURL, cfg.RedisPassword, "join", cfg.JoinRequestLimit, cfg.JoinRequestWindow, log)
	if err != nil {
		return nil, fmt.Errorf("connecting rate limiter: %w", err)
	}
	log.Info("using redis rate limiter")
	return limiter, nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	joinLimiter, err := openJoinLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer joinLimiter.Close()

	// Services
	hub := ws.NewHub(log, m)
	teams := service.NewTeamService(st.projects, st.requests, st.users, st.tx, log, m)
	chat := service.NewChatService(st.messages, st.users, teams, ws.NewHubNotifier(hub), log, m)
	teams.SetRosterNotifier(chat)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	router := handlers.NewRouter(handlers.RouterConfig{
		Teams:          teams,
		Chat:           chat,
		Verifier:       verifier,
		JoinLimiter:    joinLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            log,
		Metrics:        m,
		WebSocket: ws.ServeWS(hub, chat, verifier, ws.Options{
			OriginPatterns: cfg.AllowedOrigins,
			EventLimit:     cfg.WSEventLimit,
			EventWindow:    cfg.WSEventWindow,
		}),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:          st.ready,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
