package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/joho/godotenv"
	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/auth"
	"github.com/phbpx/leadadmin/handler"
	"github.com/phbpx/leadadmin/inmem"
	"github.com/phbpx/leadadmin/postgres"
	"github.com/phbpx/leadadmin/service"
	"github.com/phbpx/leadadmin/storage"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {

	log, err := newLog("leads-admin")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run("leads-admin", log); err != nil {
		log.Errorw("startup", "err", err)
		os.Exit(1)
	}
}

func run(serverName string, log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		Http struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:30s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			Host            string        `conf:"default:0.0.0.0:3000"`
		}
		DB struct {
			User         string `conf:"default:leadsvc"`
			Password     string `conf:"default:leadsvc,mask"`
			Host         string `conf:"default:localhost"`
			Name         string `conf:"default:leads"`
			MaxIdleConns int    `conf:"default:2"`
			MaxOpenConns int    `conf:"default:0"`
			DisableTLS   bool   `conf:"default:true"`
		}
		S3 struct {
			Endpoint        string `conf:"default:http://localhost:9000"`
			AccessKeyID     string `conf:"default:minioadmin"`
			SecretAccessKey string `conf:"default:minioadmin,mask"`
			Region          string `conf:"default:us-east-1"`
			Bucket          string `conf:"default:uploads"`
			PublicBaseURL   string
		}
		Auth struct {
			Secret        string        `conf:"default:change-me,mask"`
			AccessTTL     time.Duration `conf:"default:1h"`
			RefreshTTL    time.Duration `conf:"default:168h"`
			AdminEmail    string
			AdminPassword string `conf:"mask"`
		}
		Leads struct {
			MaxListSize int           `conf:"default:100"`
			CallTimeout time.Duration `conf:"default:15s"`
			StagedTTL   time.Duration `conf:"default:1h"`
		}
		Jaeger struct {
			ReporterURI string  `conf:"default:http://localhost:14268/api/traces"`
			ServiceName string  `conf:"default:leads-admin-api"`
			Probability float64 `conf:"default:0.5"`
		}
		// InMemory keeps leads, users and images in process memory instead
		// of Postgres and S3.
		InMemory bool `conf:"default:false"`
	}{}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	help, err := conf.Parse("LEAD", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Start Tracing Support

	log.Infow("startup", "status", "initializing OT/Jaeger tracing support")

	traceProvider, err := startTracing(
		cfg.Jaeger.ServiceName,
		cfg.Jaeger.ReporterURI,
		cfg.Jaeger.Probability,
	)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer traceProvider.Shutdown(context.Background())

	// =========================================================================
	// Stores

	var (
		records     leadadmin.RecordStore
		objects     leadadmin.ObjectStore
		users       auth.UserStore
		statusCheck func(ctx context.Context) error
		objectFiles http.Handler
	)

	if cfg.InMemory {
		log.Infow("startup", "status", "using in-memory stores")

		store := inmem.NewObjectStore("http://" + cfg.Http.Host + "/objects")
		records = inmem.NewRecordStore()
		objects = store
		objectFiles = store
		users = inmem.NewUserStore()
	} else {
		log.Infow("startup", "status", "initializing database support", "host", cfg.DB.Host)

		db, err := postgres.Open(postgres.Config{
			User:         cfg.DB.User,
			Password:     cfg.DB.Password,
			Host:         cfg.DB.Host,
			Name:         cfg.DB.Name,
			MaxIdleConns: cfg.DB.MaxIdleConns,
			MaxOpenConns: cfg.DB.MaxOpenConns,
			DisableTLS:   cfg.DB.DisableTLS,
		})
		if err != nil {
			return fmt.Errorf("connecting to db: %w", err)
		}
		defer func() {
			log.Infow("shutdown", "status", "stopping database support", "host", cfg.DB.Host)
			db.Close()
		}()

		log.Infow("startup", "status", "updating database schema", "database", cfg.DB.Name, "host", cfg.DB.Host)

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = postgres.Migrate(migrateCtx, db)
		cancel()
		if err != nil {
			return fmt.Errorf("updating database schema: %w", err)
		}

		log.Infow("startup", "status", "initializing object storage", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)

		store, err := storage.New(context.Background(), storage.Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
		}, log)
		if err != nil {
			return fmt.Errorf("creating object storage: %w", err)
		}
		if err := store.EnsureBucket(context.Background()); err != nil {
			log.Warnw("startup", "status", "bucket check failed", "bucket", cfg.S3.Bucket, "error", err.Error())
		}

		records = postgres.NewLeadStore(db)
		objects = store
		users = postgres.NewUserStore(db)
		statusCheck = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			return postgres.StatusCheck(ctx, db)
		}
	}

	// =========================================================================
	// Identity

	log.Infow("startup", "status", "initializing identity")

	identity, err := auth.New(users, auth.Config{
		Secret:     cfg.Auth.Secret,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		// TODO: send through an SMTP relay once one is configured for the
		// deployment; until then operators read the tokens from the log.
		Courier: func(ctx context.Context, email, purpose, token string) error {
			log.Infow("auth", "status", "token issued", "email", email, "purpose", purpose, "token", token)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("creating identity: %w", err)
	}

	if cfg.Auth.AdminEmail != "" {
		if err := identity.EnsureAdmin(context.Background(), cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			return fmt.Errorf("seeding admin user: %w", err)
		}
	}

	unsubscribe := identity.OnSessionChange(func(s *leadadmin.Session) {
		if s == nil {
			log.Infow("session", "status", "signed out")
			return
		}
		log.Infow("session", "status", "active", "user", s.Email, "expiresAt", s.ExpiresAt)
	})
	defer unsubscribe()

	// =========================================================================
	// Create router

	log.Infow("startup", "status", "initializing router")

	otelLog := otelzap.New(log.Desugar(), otelzap.WithStackTrace(true)).Sugar()
	leadService := service.NewLeadService(records, objects, log, service.Config{
		MaxListSize: cfg.Leads.MaxListSize,
		CallTimeout: cfg.Leads.CallTimeout,
		StagedTTL:   cfg.Leads.StagedTTL,
	})

	router := handler.NewRouter(handler.Deps{
		ServerName:  serverName,
		Leads:       leadService,
		Identity:    identity,
		Accounts:    identity,
		Objects:     objectFiles,
		Log:         otelLog,
		StatusCheck: statusCheck,
	})

	// =========================================================================
	// Start API Server

	log.Infow("startup", "status", "initializing http server", "host", cfg.Http.Host)

	server := &http.Server{
		Addr:         cfg.Http.Host,
		Handler:      router,
		ReadTimeout:  cfg.Http.ReadTimeout,
		WriteTimeout: cfg.Http.WriteTimeout,
		IdleTimeout:  cfg.Http.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Http.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

func newLog(serviceName string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

func startTracing(serviceName, reporterURL string, probability float64) (*tracesdk.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(reporterURL)))
	if err != nil {
		return nil, fmt.Errorf("creating new exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(probability))),
		// Always be sure to batch in production.
		tracesdk.WithBatcher(exp,
			tracesdk.WithMaxExportBatchSize(tracesdk.DefaultMaxExportBatchSize),
			tracesdk.WithBatchTimeout(tracesdk.DefaultScheduleDelay*time.Millisecond),
		),
		// Record information about this application in a Resource.
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("exporter", "jaeger"),
		)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}
