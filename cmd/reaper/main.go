package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/radityapw/go-digital-orders/internal/config"
	kafkax "github.com/radityapw/go-digital-orders/internal/kafka"
	"github.com/radityapw/go-digital-orders/internal/orders"
	"github.com/radityapw/go-digital-orders/internal/postgres"
	"github.com/radityapw/go-digital-orders/internal/reaper"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logrus.WithField("service", cfg.ServiceName+"-reaper")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	pExpired := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderExpired, 256)
	pExpired.Start(ctx)

	r := &reaper.Reaper{
		Orders:   &orders.Repo{DB: db},
		Audit:    &orders.FulfillmentRepo{DB: db},
		Producer: pExpired,
		Interval: cfg.ReaperInterval,
		Service:  cfg.ServiceName + "-reaper",
		Log:      log,
	}

	go func() {
		log.WithField("interval", cfg.ReaperInterval.String()).Info("reaper started")
		if err := r.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("reaper exit")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down reaper...")
	cancel()
	time.Sleep(200 * time.Millisecond)
	pExpired.Close()
	pExpired.WaitClosed()
}
