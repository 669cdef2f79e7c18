package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loyalty_service/internal/clock"
	"loyalty_service/internal/config"
	"loyalty_service/internal/earning"
	"loyalty_service/internal/httpapi"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/lock"
	"loyalty_service/internal/logging"
	"loyalty_service/internal/metrics"
	"loyalty_service/internal/notify"
	"loyalty_service/internal/prize"
	"loyalty_service/internal/redemption"
	"loyalty_service/internal/spin"
	"loyalty_service/internal/store"
	"loyalty_service/internal/tier"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("loyalty-service", "info").WithError(err).Fatal("invalid configuration")
	}
	log := logging.New("loyalty-service", cfg.LogLevel)

	db, err := store.Open(cfg.DBDriver, cfg.DBConnStr, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	if err := store.Migrate(db); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.DBDriver == store.DriverPostgres {
		locker = lock.NewAdvisory(cfg.LockTimeout)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	uow := store.NewUnitOfWork(db, locker, cfg.TxTimeout)
	uow.SetObserver(m)
	uow.SetRetries(cfg.TxRetries, cfg.TxRetryDelay)

	hub := notify.NewHub()
	sinks := notify.Multi{hub}
	if cfg.RedisURL != "" {
		pub, err := notify.NewRedisPublisher(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			log.WithError(err).Fatal("failed to connect notification publisher")
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.NotifyQueueSize, log)
	defer dispatcher.Close()

	clk := clock.System{}
	users := ledger.NewRepository(db)
	engine := ledger.NewEngine(uow, users, clk, dispatcher, m, log)
	gate := tier.NewGate(uow, tier.NewRepository(db), users, engine, clk, dispatcher, log)
	manager := redemption.NewManager(uow, redemption.NewRepository(db), users, engine, gate, clk, dispatcher, m, log)
	wheels := prize.NewRepository(db)
	spins := spin.NewService(spin.Deps{
		UnitOfWork:  uow,
		Wheels:      wheels,
		Users:       users,
		Engine:      engine,
		Resolver:    prize.NewResolver(wheels, nil),
		Redemptions: manager,
		Eligibility: gate,
		Clock:       clk,
		Sink:        dispatcher,
		Metrics:     m,
		Log:         log,
	})
	rules := earning.NewService(uow, earning.NewRepository(db), users, engine, clk, dispatcher, log)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httpapi.NewHandler(httpapi.Deps{
		Ledger:      engine,
		Spins:       spins,
		Redemptions: manager,
		Tiers:       gate,
		Earning:     rules,
		Events:      hub,
		Gatherer:    prometheus.DefaultGatherer,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "driver": cfg.DBDriver}).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
