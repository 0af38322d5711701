package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tramitex/internal/config"
	"tramitex/internal/ratelimit"
	"tramitex/internal/server"
	"tramitex/internal/util"
	"tramitex/pkg/domain"
	"tramitex/pkg/notify"
	"tramitex/pkg/report"
	"tramitex/pkg/storage"
	"tramitex/pkg/store"
	"tramitex/pkg/workflow"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init attachment store: %v", err)
		}
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		log.Fatalf("failed to init notifier: %v", err)
	}

	engine, err := workflow.New(workflow.Config{
		Store:    dataStore,
		Objects:  objects,
		Notifier: notifier,
	})
	if err != nil {
		log.Fatalf("failed to init workflow engine: %v", err)
	}

	if err := seedRoles(context.Background(), engine); err != nil {
		log.Fatalf("failed to seed roles: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var consultaLimiter *ratelimit.FixedWindowLimiter
	if cfg.ConsultaRateLimit > 0 {
		window := time.Duration(cfg.ConsultaRateWindow) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		consultaLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "tramitex:ratelimit:consulta",
			cfg.ConsultaRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init consulta rate limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		Engine:          engine,
		Reports:         report.NewService(dataStore),
		ConsultaLimiter: consultaLimiter,
		TrustedProxies:  trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("tramitex server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// seedRoles keeps the role reference records present on every start.
func seedRoles(ctx context.Context, engine *workflow.Engine) error {
	roles := []domain.Role{
		{Name: domain.RoleMesaDePartes, Description: "Recepción y registro de documentos"},
		{Name: domain.RoleDireccionGeneral, Description: "Supervisión general y reportes"},
		{Name: domain.RoleUnidad, Description: "Atención de expedientes derivados"},
	}
	for _, role := range roles {
		if err := engine.DefineRole(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

func buildNotifier(cfg config.FileConfig) (notify.Notifier, error) {
	switch cfg.Notifier {
	case "amqp":
		return notify.NewAMQPNotifier(notify.AMQPConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			RoutingKey: cfg.AMQPRoutingKey,
		})
	case "redis":
		return notify.NewRedisNotifier(notify.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.NotifyStream,
		})
	default:
		return nil, nil
	}
}
