// The billing service: invoices, payments, fees, payouts and store
// subscriptions for the marketplace.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/acl"
	"github.com/StoriqaTeam/billing-sub000/internal/auth"
	"github.com/StoriqaTeam/billing-sub000/internal/client/payments"
	"github.com/StoriqaTeam/billing-sub000/internal/client/saga"
	"github.com/StoriqaTeam/billing-sub000/internal/client/stripe"
	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/events"
	"github.com/StoriqaTeam/billing-sub000/internal/handler"
	"github.com/StoriqaTeam/billing-sub000/internal/repository"
	"github.com/StoriqaTeam/billing-sub000/internal/service"
	"github.com/StoriqaTeam/billing-sub000/internal/worker"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	db, err := sqlx.Connect("postgres", cfg.Server.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("connect to postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Server.ThreadCount)

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.WithError(err).Fatal("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// the ungated roles reader breaks the storage <-> acl cycle
	rolesSource := repository.NewStorage(db, nil).UserRoles()
	guard := acl.New(rolesSource, acl.NewRoleCache(redisClient, log))
	storage := repository.NewStorage(db, guard)

	var gateway payments.Client
	systemAccounts := cfg.Payments.Accounts
	minPooled := cfg.Payments.MinPooledAccounts
	if cfg.PaymentsMock.UseMock {
		log.Warn("using the in-memory payments gateway")
		gateway = payments.NewMock()
		systemAccounts = cfg.PaymentsMock.Accounts
		minPooled = cfg.PaymentsMock.MinPooledAccounts
	} else {
		gateway = payments.NewHTTPClient(cfg, log)
	}

	cards := stripe.NewHTTPClient(cfg, log)
	var orchestrator saga.Client = saga.Noop{}
	if cfg.Client.SagaURL != "" {
		orchestrator = saga.NewHTTPClient(cfg, log)
	}
	publisher := events.NewRedisPublisher(redisClient, log)

	accounts := service.NewAccountService(storage, gateway, systemAccounts, minPooled, log)
	invoices := service.NewInvoiceService(storage, gateway, cards, orchestrator, accounts, publisher, cfg.Fee.OrderPercent, cfg.PaymentExpiry, log)
	fiat := service.NewFiatService(storage, cards, orchestrator, publisher, cfg.Fee.OrderPercent, cfg.Stripe.SigningSecret, log)
	payouts := service.NewPayoutService(storage, gateway, orchestrator, accounts, log)
	subscriptions := service.NewSubscriptionService(storage, gateway, cards, accounts, cfg.Subscription, log)
	roles := service.NewRoleService(storage, log)

	bootCtx := auth.WithUser(context.Background(), acl.SystemUserID)
	if err := accounts.InitSystemAccounts(bootCtx); err != nil {
		log.WithError(err).Fatal("init system accounts")
	}
	if err := accounts.InitAccountPools(bootCtx); err != nil {
		log.WithError(err).Error("init account pools")
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	processor := worker.NewProcessor(storage.EventStore(), cfg.EventStore, log)
	worker.RegisterBillingHandlers(processor, invoices, fiat, payouts, log)
	go processor.Run(workerCtx)

	schedules, err := worker.NewSchedules(subscriptions, accounts, log)
	if err != nil {
		log.WithError(err).Fatal("register schedules")
	}
	schedules.Start()

	h := handler.New(invoices, fiat, payouts, subscriptions, roles, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      h.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ProcessingTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.ProcessingTimeoutMs) * time.Millisecond,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("billing service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	stopWorker()
	schedules.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
}
