package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orgportal/internal/app"
	"orgportal/internal/app/observability"
	"orgportal/internal/auth"
	"orgportal/internal/db"
	"orgportal/internal/grading"
	"orgportal/internal/logger"
	"orgportal/internal/question"
	"orgportal/internal/report"
	"orgportal/internal/store"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type backend interface {
	question.Store
	grading.Store
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "orgportal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := app.LoadConfig(args)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracer trace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err := observability.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := observability.ShutdownTracer(shutdownCtx, tp); err != nil {
				log.Warn("tracer shutdown", zap.Error(err))
			}
		}()
		tracer = tp
	}

	metrics := observability.NewMetrics(log.Named("http"))

	var st backend
	switch cfg.DB.Driver {
	case app.DriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		st = store.NewMemory()
	default:
		conn, err := openDatabase(ctx, cfg.DB, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		metrics.RegisterDB(conn)
		st = store.NewPostgres(conn)
	}

	authSvc, err := auth.NewService(auth.ServiceConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		JWTIssuer: cfg.Auth.JWTIssuer,
		APIKeys:   cfg.Auth.APIKeys,
	})
	if err != nil {
		return err
	}
	gradingSvc := grading.NewService(st, grading.Config{
		SessionTTL:         cfg.Grading.SessionTTL(),
		RejectStaleCommits: cfg.Grading.RejectStaleCommits,
		Logger:             log.Named("grading"),
		Metrics:            metrics,
	})
	metrics.RegisterOpenSessions(gradingSvc.OpenSessions)

	router := app.NewRouter(app.Deps{
		Config:    cfg,
		Metrics:   metrics,
		Tracer:    tracer,
		Auth:      authSvc,
		Questions: question.NewService(st, log.Named("question")),
		Grading:   gradingSvc,
		Reports:   report.NewService(st),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("orgportal listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("env", cfg.AppEnv),
			zap.String("driver", cfg.DB.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg app.DBConfig, log *zap.Logger) (*sql.DB, error) {
	conn, err := db.OpenPostgres(ctx, cfg.DSN, cfg.Postgres())
	if err != nil {
		return nil, err
	}
	if cfg.ApplySchema {
		if err := db.ApplySchema(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		log.Info("database schema applied")
	}
	return conn, nil
}
