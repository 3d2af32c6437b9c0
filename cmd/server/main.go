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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"carebase/internal/accessgrant"
	"carebase/internal/admin"
	"carebase/internal/authz"
	"carebase/internal/bootstrap"
	"carebase/internal/bootstrap/provider"
	"carebase/internal/clinical"
	"carebase/internal/eventbus"
	"carebase/internal/impersonation"
	jwttoken "carebase/internal/jwt_token"
	"carebase/internal/ledger"
	"carebase/internal/organization"
	"carebase/internal/platform/config"
	"carebase/internal/platform/httpserver"
	"carebase/internal/platform/kafka"
	"carebase/internal/platform/logger"
	"carebase/internal/platform/metrics"
	authmw "carebase/internal/platform/middleware"
	platformredis "carebase/internal/platform/redis"
	"carebase/internal/platform/tracing"
	"carebase/internal/rbac"
	"carebase/internal/router"
	"carebase/pkg/platform/circuit"
	"carebase/pkg/platform/middleware/correlation"
	"carebase/pkg/platform/middleware/requesttime"
)

const serviceName = "carebase"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("tracing shutdown", "error", err)
		}
	}()

	m := metrics.New()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	resolver, err := authz.NewResolver(st.rbac, st.grants, authz.WithLogger(log), authz.WithMetrics(m))
	if err != nil {
		return err
	}

	projectors := []router.Projector{
		organization.NewProjector(st.orgs, st.rbac, st.audit, organization.WithLogger(log)),
		rbac.NewProjector(st.rbac, st.audit, rbac.WithLogger(log)),
		accessgrant.NewProjector(st.grants, st.audit, log),
		impersonation.NewProjector(st.impersonation, resolver, st.audit, log),
	}
	projectors = append(projectors, clinical.NewProjectors(st.clinical, st.orgs, st.audit, clinical.WithLogger(log))...)
	registry, err := router.NewRegistry(projectors...)
	if err != nil {
		return err
	}
	eventRouter, err := router.New(st.events, registry,
		router.WithLogger(log),
		router.WithMetrics(m),
		router.WithTxRunner(st.tx),
		router.WithSlowThreshold(cfg.Router.SlowThreshold),
	)
	if err != nil {
		return err
	}

	bus, closeBus, err := openBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()

	ldg, err := ledger.New(st.events, eventRouter,
		ledger.WithQueue(st.queue),
		ledger.WithOutbox(st.outbox),
		ledger.WithPublisher(bus),
		ledger.WithTxRunner(st.tx),
		ledger.WithLogger(log),
		ledger.WithMetrics(m),
		ledger.WithMaxCascade(cfg.Router.MaxCascade),
	)
	if err != nil {
		return err
	}

	breaker := circuit.New("identity_provider", breakerStore(st, rdb, log),
		circuit.WithFailureThreshold(cfg.Bootstrap.BreakerThreshold),
		circuit.WithCooldown(cfg.Bootstrap.BreakerCooldown),
		circuit.WithLogger(log),
		circuit.WithOnTransition(func(service string, change circuit.Change) {
			m.IncBreakerTransition(service, string(change.To))
		}),
	)
	providerClient := provider.New(cfg.Provider.BaseURL,
		provider.WithToken(cfg.Provider.Token),
		provider.WithHTTPClient(&http.Client{Timeout: cfg.Provider.Timeout}),
	)
	orchestrator, err := bootstrap.NewOrchestrator(ldg, st.events, providerClient, breaker, st.rbac,
		bootstrap.WithLogger(log),
		bootstrap.WithMetrics(m),
		bootstrap.WithRetry(cfg.Bootstrap.Attempts, cfg.Bootstrap.InitialBackoff, cfg.Bootstrap.MaxBackoff),
	)
	if err != nil {
		return err
	}
	orchestrator.Register(bus)

	adminService, err := admin.NewService(st.events, ldg, admin.WithLogger(log), admin.WithQueue(st.queue))
	if err != nil {
		return err
	}
	adminHandler := admin.NewHandler(adminService, orchestrator.Monitor(), orchestrator, log)
	tokens := jwttoken.NewJWTService(cfg.Server.AdminJWTSecret, cfg.Server.AdminJWTIssuer, cfg.Server.AdminAudience)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(correlation.Middleware)
	r.Use(requesttime.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(authmw.RequireRole(tokens, jwttoken.RoleAdmin, log))
		adminHandler.Register(ar)
	})
	srv := httpserver.New(cfg.Server.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error {
		return ledger.NewWorker(ledger.WorkerDeps{
			Ledger:   ldg,
			Logger:   log,
			Interval: cfg.Router.FollowUpInterval,
			Batch:    cfg.Router.FollowUpBatch,
		}).Run(gctx)
	})
	g.Go(func() error { return httpserver.Serve(gctx, srv, cfg.Server.ShutdownTimeout, log) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// openBus returns the downstream event bus and a function that releases it.
func openBus(ctx context.Context, cfg config.Config, log *slog.Logger) (eventbus.Bus, func(), error) {
	if cfg.Server.Bus == config.BusMemory {
		return eventbus.NewInMemoryBus(eventbus.WithMemoryLogger(log)), func() {}, nil
	}
	client, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	if err := kafka.EnsureTopic(ctx, client, cfg.Kafka, log); err != nil {
		client.Close()
		return nil, nil, err
	}
	return eventbus.NewKafkaBus(client, cfg.Kafka.Topic, log), client.Close, nil
}
