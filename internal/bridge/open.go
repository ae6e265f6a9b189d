package bridge

import (
	"context"
	"fmt"

	"notifybridge/internal/config"
	"notifybridge/internal/logging"
	"notifybridge/internal/messaging"
	"notifybridge/internal/metrics"
	"notifybridge/internal/notify"
	"notifybridge/internal/session"
)

// Open builds a Bridge from configuration: NATS for the directory, the
// discovery broadcast and every publisher, redis for sessions.
func Open(ctx context.Context, cfg *config.AppConfig, m metrics.Provider) (*Bridge, error) {
	if m == nil {
		m = metrics.Noop{}
	}
	logger := logging.Component("bridge")
	dial := messaging.NATSDialer(messaging.ConnOptions{
		Name:          cfg.NATS.Name,
		Reconnect:     cfg.NATS.Reconnect,
		ReconnectWait: cfg.NATS.ReconnectWait,
		MaxReconnects: cfg.NATS.MaxReconnects,
		Logger:        logger,
	})

	store, err := session.NewRedisStore(cfg.Session.Store)
	if err != nil {
		return nil, err
	}
	closers := []func() error{store.Close}
	fail := func(err error) (*Bridge, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	dirBus, err := dial(cfg.Directory.URL)
	if err != nil {
		return fail(fmt.Errorf("directory: %w", err))
	}
	closers = append(closers, dirBus.Close)
	discBus, err := dial(cfg.Discovery.URL)
	if err != nil {
		return fail(fmt.Errorf("discovery: %w", err))
	}
	closers = append(closers, discBus.Close)

	auth := session.NewAuthenticator([]byte(cfg.Session.Secret), store,
		session.WithLogger(logging.Component("session")),
		session.WithMetrics(m),
		session.WithKeyPrefix(cfg.Session.KeyPrefix),
		session.WithLookupTimeout(cfg.Session.LookupTimeout),
		session.WithCache(cfg.Session.CacheSize, cfg.Session.CacheTTL),
	)
	registry := notify.NewRegistry(dial,
		notify.WithLogger(logging.Component("registry")),
		notify.WithMetrics(m),
		notify.WithSubjectPrefix(cfg.Publisher.SubjectPrefix),
	)

	dirCtx, cancel := context.WithTimeout(ctx, cfg.Directory.RequestTimeout)
	defer cancel()
	b, err := New(dirCtx, Options{
		DirectoryBus:     dirBus,
		DirectorySubject: cfg.Directory.Subject,
		DiscoveryBus:     discBus,
		DiscoverySubject: cfg.Discovery.Subject,
		Registry:         registry,
		Users:            auth,
		Logger:           logger,
		// the directory connection is only needed at startup
		Closers: []func() error{discBus.Close, store.Close},
	})
	if err != nil {
		_ = registry.Close()
		return fail(err)
	}
	_ = dirBus.Close()
	return b, nil
}
