package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tentsuite/tent/client"
	"github.com/tentsuite/tent/internal/config"
	"github.com/tentsuite/tent/internal/domain"
	"github.com/tentsuite/tent/internal/infra/database"
	"github.com/tentsuite/tent/internal/infra/gateway"
	"github.com/tentsuite/tent/internal/infra/repository"
	"github.com/tentsuite/tent/internal/present/rest"
	"github.com/tentsuite/tent/internal/present/rest/middleware"
	"github.com/tentsuite/tent/internal/service"
	"github.com/tentsuite/tent/internal/usecase"
)

func main() {
	configPath := flag.String("config", "/etc/tent/config.yaml", "path to config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if conf.Server.EnableTrace {
		cleanup, err := setupTraceProvider(conf.Server.TraceEndpoint, conf.NodeInfo.FQDN)
		if err != nil {
			slog.Error("failed to set up tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer cleanup()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := database.MigratePostgres(db); err != nil {
		slog.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)
	mc := database.NewMemcached(conf.Server.MemcachedAddr)

	fedClient := client.New("tentd/" + conf.NodeInfo.FQDN)
	fedGateway := gateway.NewFederationGateway(fedClient)
	queueGateway := gateway.NewQueueGateway(rdb)

	postRepo := repository.NewPostRepository(db)
	userRepo := repository.NewUserRepository(db, mc, fedGateway)
	bewitRepo := repository.NewBewitRepository(rdb)
	graphRepo := repository.NewGraphRepository(db)

	signalService := service.NewSignalService(rdb)
	authService := service.NewAuthService(postRepo, bewitRepo)

	domainConf := conf.Domain()
	fetcher := usecase.NewPostFetchService(postRepo, userRepo, fedGateway)
	resolver := usecase.NewResolver(userRepo, fetcher)
	postUsecase := usecase.NewPostUsecase(postRepo, userRepo, resolver, queueGateway, signalService)
	feedResolver := usecase.NewFeedResolver(userRepo, fetcher, graphRepo)
	relationshipUsecase := usecase.NewRelationshipUsecase(
		postRepo, userRepo, postUsecase, bewitRepo, fedGateway,
		domainConf, []byte(conf.NodeInfo.Secret),
	)

	worker := usecase.NewPropagationWorker(queueGateway, postRepo, userRepo)
	go worker.Run(context.Background())

	// The node always owns a local user for its configured entity. Anonymous
	// feed reads are served as this user.
	_, err = userRepo.Register(context.Background(), domain.User{
		Entity:   domainConf.Entity,
		Internal: true,
	})
	if err != nil {
		slog.Error("failed to register node user", slog.String("error", err.Error()))
		os.Exit(1)
	}

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(conf.NodeInfo.FQDN))
	}

	authMiddleware := middleware.NewAuthMiddleware(authService, domainConf)
	e.Use(authMiddleware.IdentifyIdentity)

	handler := rest.NewHandler(
		domainConf,
		postUsecase,
		feedResolver,
		relationshipUsecase,
		userRepo,
		postRepo,
		signalService,
	)
	handler.RegisterRoutes(e)

	slog.Info("starting server",
		slog.String("listen", conf.Server.Listen),
		slog.String("entity", conf.NodeInfo.Entity),
	)
	e.Logger.Fatal(e.Start(conf.Server.Listen))
}

func setupTraceProvider(endpoint string, serviceName string) (func(), error) {
	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)

	cleanup := func() {
		_ = tracerProvider.Shutdown(context.Background())
	}
	return cleanup, nil
}
