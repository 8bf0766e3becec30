package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/openindexlabs/ledgerdex/access"
	"github.com/openindexlabs/ledgerdex/client"
	"github.com/openindexlabs/ledgerdex/internal/config"
	"github.com/openindexlabs/ledgerdex/internal/domain"
	"github.com/openindexlabs/ledgerdex/internal/infra/database"
	"github.com/openindexlabs/ledgerdex/internal/infra/gateway"
	"github.com/openindexlabs/ledgerdex/internal/infra/repository"
	"github.com/openindexlabs/ledgerdex/internal/present/rest"
	"github.com/openindexlabs/ledgerdex/internal/present/rest/middleware"
	"github.com/openindexlabs/ledgerdex/internal/service"
	"github.com/openindexlabs/ledgerdex/internal/usecase"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "config.yaml", "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conf, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := setupTracer(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error("failed to set up tracing", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	if err := database.MigratePostgres(db); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)

	recordRepo := repository.NewRecordRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	creatorRepo := repository.NewCreatorRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)

	ledgerClient := client.New(conf.Ledger.Endpoint)
	ledger := gateway.NewLedgerGateway(ledgerClient, gateway.LedgerOptions{
		IndexMethod:   conf.Ledger.IndexMethod,
		MinVersion:    conf.Ledger.MinProtocolVersion,
		PageSize:      conf.Ledger.PageSize,
		PageRetries:   conf.Ledger.PageRetries,
		MaxPerCycle:   conf.Ledger.MaxTxPerCycle,
		MemcachedAddr: conf.Server.MemcachedAddr,
	})

	templates := usecase.NewTemplateRegistry(templateRepo, recordRepo, ledger, conf.Sync.TemplateCacheTTL)
	creators := usecase.NewCreatorRegistry(creatorRepo)
	organizations := usecase.NewOrganizationRegistry(orgRepo)
	decoder := usecase.NewRecordDecoder(templates)

	policy := usecase.NewInclusionPolicy(domain.ParseInclusionMode(conf.Policy.Mode), conf.Policy.RecordTypes)

	signalService := service.NewSignalService(rdb)

	indexer := usecase.NewIndexer(recordRepo, templates, creators, organizations, decoder, policy, signalService)

	recordsCache := usecase.NewRecordsCache(recordRepo, conf.Sync.CacheTTL)
	scheduler := usecase.NewScheduler(
		recordRepo, templateRepo, creatorRepo, orgRepo,
		ledger, indexer, recordsCache,
		conf.Sync.Interval, conf.Ledger.MinProtocolVersion, conf.Sync.RefreshEveryN,
	)
	go scheduler.Run(ctx)

	membership := gateway.NewMembershipGateway(conf.Membership.Endpoint, rdb, conf.Membership.CacheTTL)
	evaluator := access.NewEvaluator(membership, conf.Membership.Concurrency)
	engine := usecase.NewQueryEngine(recordsCache, evaluator, scheduler)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("ledgerdex"))
	}

	userRepo := repository.NewUserRepository(db)
	auth := middleware.NewAuthMiddleware(service.NewAuthService(userRepo))
	e.Use(auth.IdentifyRequester)

	handler := rest.NewHandler(engine, templates, scheduler, signalService)
	handler.RegisterRoutes(e)

	go func() {
		if err := e.Start(conf.Server.Listen); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}

func setupTracer(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
