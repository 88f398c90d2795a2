package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/radityapw/go-digital-orders/internal/config"
	"github.com/radityapw/go-digital-orders/internal/fulfillment"
	"github.com/radityapw/go-digital-orders/internal/httpx"
	kafkax "github.com/radityapw/go-digital-orders/internal/kafka"
	"github.com/radityapw/go-digital-orders/internal/orders"
	"github.com/radityapw/go-digital-orders/internal/payment"
	"github.com/radityapw/go-digital-orders/internal/postgres"
	"github.com/radityapw/go-digital-orders/internal/ratelimit"
	"github.com/radityapw/go-digital-orders/internal/redisx"
	"github.com/radityapw/go-digital-orders/internal/vault"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logrus.WithField("service", cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.WithError(err).Fatal("db migrate")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Vault
	vlt, err := vault.New(cfg.VaultKey)
	if err != nil {
		log.WithError(err).Fatal("vault key")
	}

	// Kafka producers
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCreated.Start(ctx)
	pFulfilled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderFulfilled, 1024)
	pFulfilled.Start(ctx)

	// Repos & services
	repo := &orders.Repo{DB: db}
	stock := &orders.StockRepo{DB: db}
	frepo := &orders.FulfillmentRepo{DB: db}

	fulfiller := &fulfillment.Service{
		Store:  frepo,
		Vault:  vlt,
		Tokens: fulfillment.NewTokenMaker(cfg.DeliveryTokenKey),
		Actor:  cfg.ServiceName,
		Log:    log.WithField("component", "fulfillment"),
	}
	processor := &payment.Processor{
		Orders:      repo,
		Payments:    frepo,
		Fulfiller:   fulfiller,
		APIKey:      cfg.WebhookAPIKey,
		Producer:    pFulfilled,
		Redis:       rdb,
		ServiceName: cfg.ServiceName,
		Log:         log.WithField("component", "webhook"),
	}
	limiter := &ratelimit.Limiter{
		Counter: &ratelimit.RedisCounter{R: rdb},
		Max:     cfg.RateLimitMax,
		Window:  cfg.RateLimitWindow,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Store:    repo,
		Stock:    stock,
		Vault:    vlt,
		Limiter:  limiter,
		Producer: pCreated,
		Redis:    rdb,
		Validate: validator.New(),
		AdminKey: cfg.AdminAPIKey,
		Service:  cfg.ServiceName,
		Hold:     cfg.ReservationHold,
		Log:      log.WithField("component", "orders"),
	}
	oh.Register(router)
	wh := &httpx.WebhookHandler{
		Processor: processor,
		Log:       log.WithField("component", "webhook"),
	}
	wh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pCreated.Close()
	pFulfilled.Close()
	cancel()
	pCreated.WaitClosed()
	pFulfilled.WaitClosed()
}
