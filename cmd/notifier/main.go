package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/radityapw/go-digital-orders/internal/config"
	kafkax "github.com/radityapw/go-digital-orders/internal/kafka"
	"github.com/radityapw/go-digital-orders/internal/notifier"
	"github.com/radityapw/go-digital-orders/internal/orders"
	"github.com/radityapw/go-digital-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logrus.WithField("service", cfg.ServiceName+"-notifier")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notifier.Service{
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-notifier",
		Log:         log,
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderFulfilled, workers)

	go func() {
		log.WithFields(logrus.Fields{
			"group":   group,
			"topic":   orders.TopicOrderFulfilled,
			"workers": workers,
		}).Info("notifier consumer started")
		if err := cons.Start(ctx, svc.HandleOrderFulfilled); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down notifier...")
	cancel()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
