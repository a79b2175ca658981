package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/orderstream/internal/health"
	"github.com/vladislavdragonenkov/orderstream/internal/metrics"
	"github.com/vladislavdragonenkov/orderstream/internal/service/orders"
	"github.com/vladislavdragonenkov/orderstream/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/orderstream/internal/txscope"
	"github.com/vladislavdragonenkov/orderstream/internal/version"
)

const storageCheckTimeout = 2 * time.Second

// Run собирает хранилище, сервис и HTTP-серверы и блокируется до отмены ctx
// или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	storage, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	publisher, closePublisher := initPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer closePublisher()

	orderMetrics := metrics.NewOrderMetrics()
	runner := txscope.NewRunner(storage.store, orderMetrics, logger.WithField("layer", "txscope"))
	svc := orders.NewService(storage.store, runner, publisher,
		logger.WithField("layer", "service"),
		orders.WithMetrics(orderMetrics),
		orders.WithFlushEvery(cfg.FlushEvery),
	)
	router := httpapi.NewRouter(svc, httpapi.Options{StreamTimeout: cfg.StreamTimeout}, logger.WithField("layer", "http"))

	healthHandler := healthcheck.NewHandler(version.Version(), cfg.StorageDriver)
	healthHandler.RegisterChecker("storage", healthcheck.NewStoreChecker("storage", storage.pinger, storageCheckTimeout))

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := newMetricsServer(cfg.MetricsAddr, healthHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		return serveHTTP(apiSrv)
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", cfg.MetricsAddr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", cfg.MetricsAddr, cfg.MetricsAddr, cfg.MetricsAddr)
		return serveHTTP(metricsSrv)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("получен сигнал остановки, останавливаем HTTP серверы")
		}
		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newMetricsServer собирает HTTP-сервер для /metrics и health checks.
func newMetricsServer(addr string, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}
