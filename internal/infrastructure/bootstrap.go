package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"creditledger/internal/config"
	"creditledger/internal/repository"
	"creditledger/internal/service"
	transportHTTP "creditledger/internal/transport/http"
	transportNATS "creditledger/internal/transport/nats"
	"creditledger/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	store := repository.NewPostgresStore(db, rdb)

	// Audit events and sweeper alerts go out over NATS when the gateway is
	// enabled; otherwise they only reach the structured log.
	var bus repository.MessageBus = logBus{}
	var nc *nats.Conn
	if cfg.NatsEnabled == "true" {
		nc, err = connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, nc.Close)
		bus = transportNATS.NewBus(nc)
	}

	engine := service.NewEngine(store, bus)
	var svc service.ReconcileService = engine

	var servers []Server
	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(svc, nc))
	}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc))
	}
	servers = append(servers, worker.NewSweeper(store, bus,
		cfg.SweepIntervalOr(time.Minute), cfg.SweepAgeOr(15*time.Minute)))

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// logBus stands in for NATS when the gateway is disabled, so audit events
// still land somewhere observable.
type logBus struct{}

func (logBus) Publish(topic string, data []byte) error {
	slog.Info("event", "topic", topic, "payload", string(data))
	return nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
