package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/bookstore/internal/health"
	"github.com/vladislavdragonenkov/bookstore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/bookstore/internal/metrics"
	"github.com/vladislavdragonenkov/bookstore/internal/service/cart"
	"github.com/vladislavdragonenkov/bookstore/internal/service/checkout"
	svcoutbox "github.com/vladislavdragonenkov/bookstore/internal/service/outbox"
	"github.com/vladislavdragonenkov/bookstore/internal/version"
)

// App связывает хранилище, сервисы и фоновые воркеры приложения.
type App struct {
	cfg  Config
	deps *Dependencies

	Checkout *checkout.Service
	Cart     *cart.Service

	producer *kafka.Producer
	worker   *svcoutbox.Worker
	cleanup  *svcoutbox.CleanupWorker
	logger   *log.Entry
}

// New собирает приложение по конфигурации.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	a.Checkout = checkout.NewService(
		deps.UnitOfWork,
		deps.Books,
		deps.Orders,
		deps.Carts,
		deps.Outbox,
		deps.Timeline,
		checkout.WithLogger(logger.WithField("layer", "checkout")),
		checkout.WithMetrics(metrics.NewCheckoutMetrics()),
	)
	a.Cart = cart.NewService(deps.Carts, deps.Books, logger.WithField("layer", "cart"))

	// Kafka опционален: без брокеров события копятся в outbox до включения.
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, outbox publishing disabled")
		} else {
			a.producer = producer
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

			publisher := kafka.NewOutboxPublisher(producer, cfg.OrderTopic)
			dlqPublisher := kafka.NewOutboxPublisher(producer, cfg.DLQTopic)
			a.worker = svcoutbox.NewWorker(
				deps.Outbox,
				publisher,
				svcoutbox.WithLogger(logger.WithField("layer", "outbox")),
				svcoutbox.WithDLQPublisher(dlqPublisher),
				svcoutbox.WithPollInterval(cfg.OutboxPollInterval),
				svcoutbox.WithBatchSize(cfg.OutboxBatchSize),
			)
		}
	}

	a.cleanup = svcoutbox.NewCleanupWorker(
		deps.Outbox,
		svcoutbox.WithCleanupLogger(logger.WithField("layer", "outbox-cleanup")),
		svcoutbox.WithCleanupInterval(cfg.OutboxCleanupInterval),
		svcoutbox.WithCleanupRetention(cfg.OutboxRetention),
	)

	return a, nil
}

// Run запускает gRPC-сервер, HTTP-сервер метрик и фоновые воркеры
// до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	grpcServer, healthServer, err := a.buildGRPCServer()
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return err
	}

	metricsSrv := a.buildMetricsServer()

	g.Go(func() error {
		a.logger.Infof("gRPC server listening on %s", a.cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Infof("metrics available at %s/metrics", a.cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.worker != nil {
		g.Go(func() error {
			a.worker.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		a.cleanup.Run(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutdown signal received")

		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			a.logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}

		shutdownHTTP(metricsSrv, a.logger)
		return nil
	})

	err = g.Wait()
	a.close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close kafka producer")
		}
	}
	if err := a.deps.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close storage")
	}
}

// buildGRPCServer настраивает gRPC-сервер с health, reflection и метриками.
func (a *App) buildGRPCServer() (*grpc.Server, *health.Server, error) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			a.logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	grpcMetrics.InitializeMetrics(grpcServer)

	// Reflection для grpcurl и нагрузочных инструментов.
	reflection.Register(grpcServer)

	return grpcServer, healthServer, nil
}

// buildMetricsServer настраивает HTTP-сервер с /metrics и health-эндпоинтами.
func (a *App) buildMetricsServer() *http.Server {
	healthHandler := healthcheck.NewHandler(version.Current().Version)
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", 2*time.Second, a.deps.Ping))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
}

// Run собирает приложение и запускает его до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
