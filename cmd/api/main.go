package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"agora.city/internal/admin"
	"agora.city/internal/auth"
	"agora.city/internal/authz"
	"agora.city/internal/authz/remote"
	"agora.city/internal/config"
	"agora.city/internal/events"
	"agora.city/internal/httpapi"
	"agora.city/internal/kv"
	"agora.city/internal/obs"
	"agora.city/internal/store/memory"
	"agora.city/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store  admin.Store
		cfgKV  kv.Store
		probes []httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store, cfgKV = pgStore, pgStore.Config()
		probes = append(probes, pgStore)
	} else {
		mem := memory.New()
		if err := admin.Bootstrap(ctx, mem, time.Now().UTC()); err != nil {
			log.Fatalf("bootstrap: %v", err)
		}
		store, cfgKV = mem, kv.NewMemory()
		log.Warn("AGORA_PG_DSN not set, using in-memory store")
	}

	if cfg.RedisAddr != "" {
		rdb, err := kv.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		cfgKV = kv.NewRedis(rdb, "")
		probes = append(probes, httpapi.ReadyFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	backend, closeBackend := authorizer(cfg, log)
	defer closeBackend()
	client, err := authz.NewClient(backend,
		authz.WithTimeout(cfg.AuthzTimeout),
		authz.WithDeduplication(cfg.AuthzDedupe),
	)
	if err != nil {
		log.Fatalf("authz client: %v", err)
	}

	tokens, err := auth.NewTokens(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	broker := events.NewBroker()
	svc, err := admin.NewService(store, cfgKV, admin.WithPublisher(broker))
	if err != nil {
		log.Fatalf("admin service: %v", err)
	}

	ready := readyAll(probes)
	api, err := httpapi.New(httpapi.Deps{
		Admin:  svc,
		Authz:  client,
		Tokens: tokens,
		Events: broker,
		Ready:  ready,
	}, httpapi.Options{
		Version:      version,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
		DevTokens:    cfg.DevTokens(),
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("starting agora-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *httpapi.GRPCServer
	if cfg.GRPCAddr != "" {
		grpcSrv = httpapi.NewGRPCServer(client, ready)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go func() {
			log.WithField("addr", cfg.GRPCAddr).Info("starting grpc")
			if err := grpcSrv.Serve(lis); err != nil {
				log.WithError(err).Error("grpc serve")
			}
		}()
		go every(ctx, 15*time.Second, grpcSrv.RefreshHealth)
	}

	go every(ctx, cfg.DelegationSweep, func(ctx context.Context) {
		res, err := svc.ExpireDelegations(ctx, time.Now().UTC())
		if err != nil {
			log.WithError(err).Error("delegation sweep failed")
			return
		}
		if len(res.Succeeded)+len(res.Failed) > 0 {
			log.WithFields(logrus.Fields{
				"expired": len(res.Succeeded),
				"failed":  len(res.Failed),
			}).Info("delegation sweep")
		}
	})

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	log.Info("stopped")
}

// authorizer picks the Authorization Service transport. Without one every check
// fails closed.
func authorizer(cfg *config.Config, log *logrus.Logger) (authz.Authorizer, func()) {
	switch {
	case cfg.AuthzURL != "":
		a, err := remote.NewHTTPAuthorizer(cfg.AuthzURL, remote.WithAPIKey(cfg.AuthzAPIKey))
		if err != nil {
			log.Fatalf("authz http: %v", err)
		}
		return a, func() {}
	case cfg.AuthzGRPCTarget != "":
		a, err := remote.DialGRPC(cfg.AuthzGRPCTarget)
		if err != nil {
			log.Fatalf("authz grpc: %v", err)
		}
		return a, func() { _ = a.Close() }
	default:
		log.Warn("no authorization service configured, all checks will be denied")
		return remote.Offline{}, func() {}
	}
}

func readyAll(probes []httpapi.ReadyProbe) httpapi.ReadyProbe {
	return httpapi.ReadyFunc(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	if d <= 0 {
		return
	}
	fn(ctx)
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}
