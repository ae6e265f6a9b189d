// Package bridge ties session authentication to the notification registry
// and is the only surface client transports talk to.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"notifybridge/internal/directory"
	"notifybridge/internal/logging"
	"notifybridge/internal/messaging"
	"notifybridge/internal/notify"
)

// UserResolver turns a session token into a user id.
type UserResolver interface {
	GetUser(ctx context.Context, token string) (string, bool)
	GetUserAsync(token string, cb func(user string, ok bool))
}

// Options wires an already constructed set of collaborators.
type Options struct {
	DirectoryBus     messaging.Bus
	DirectorySubject string
	DiscoveryBus     messaging.Bus
	DiscoverySubject string
	Registry         *notify.Registry
	Users            UserResolver
	Logger           logging.Logger
	// Closed together with the bridge, in order.
	Closers []func() error
}

type Bridge struct {
	users    UserResolver
	registry *notify.Registry
	listener *directory.Listener
	logger   logging.Logger
	closers  []func() error
}

// New fetches the initial publisher list, connects to each publisher and
// starts following discovery broadcasts. The directory wait is bounded by
// ctx. Any directory failure aborts construction.
func New(ctx context.Context, opts Options) (*Bridge, error) {
	if opts.Registry == nil || opts.Users == nil || opts.DirectoryBus == nil || opts.DiscoveryBus == nil {
		return nil, errors.New("bridge: registry, users, directory and discovery buses are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	addrs, err := directory.NewClient(opts.DirectoryBus, opts.DirectorySubject, logger).RequestPublishers(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge: initial publisher list: %w", err)
	}
	logger.Infof("Connecting to %d publishers", len(addrs))
	for _, addr := range addrs {
		// a publisher that cannot be reached now is only retried if it is announced again
		_ = opts.Registry.AddPublisher(addr)
	}

	listener := directory.NewListener(opts.DiscoveryBus, opts.DiscoverySubject, opts.Registry, logger)
	if err := listener.Start(); err != nil {
		return nil, fmt.Errorf("bridge: discovery subscription: %w", err)
	}

	return &Bridge{
		users:    opts.Users,
		registry: opts.Registry,
		listener: listener,
		logger:   logger,
		closers:  opts.Closers,
	}, nil
}

func (b *Bridge) GetUser(ctx context.Context, token string) (string, bool) {
	return b.users.GetUser(ctx, token)
}

func (b *Bridge) GetUserAsync(token string, cb func(user string, ok bool)) {
	b.users.GetUserAsync(token, cb)
}

func (b *Bridge) Register(identity string, cb notify.Callback) (*notify.Registration, error) {
	return b.registry.Register(identity, cb)
}

func (b *Bridge) Unregister(identity string, reg *notify.Registration) {
	b.registry.Unregister(identity, reg)
}

func (b *Bridge) Publishers() []string { return b.registry.Publishers() }

func (b *Bridge) Close() error {
	var errs []error
	if err := b.listener.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
