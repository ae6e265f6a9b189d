package messaging

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"

	"notifybridge/internal/logging"
)

type NATSBus struct{ nc *nats.Conn }

func NewNATSBus(url string, opts ...nats.Option) (*NATSBus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error { return b.nc.Publish(subject, data) }

// Subscribe registers handler and flushes so the server knows about the
// interest before Subscribe returns.
func (b *NATSBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	sub, err := b.SubscribeAsync(subject, handler)
	if err != nil {
		return nil, err
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

// SubscribeAsync registers handler without waiting for the server.
func (b *NATSBus) SubscribeAsync(subject string, handler func([]byte)) (io.Closer, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) { handler(m.Data) })
	if err != nil {
		return nil, err
	}
	return closerFunc(func() error { return sub.Unsubscribe() }), nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Flush waits until the server has processed everything published so far.
func (b *NATSBus) Flush() error { return b.nc.Flush() }

func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}

// ConnOptions controls how NATS connections are created.
type ConnOptions struct {
	Name          string
	Reconnect     bool
	ReconnectWait time.Duration
	MaxReconnects int
	Logger        logging.Logger
}

// Options converts ConnOptions into nats.Option values. Without Reconnect a
// dropped connection stays dropped.
func (o ConnOptions) Options() []nats.Option {
	opts := []nats.Option{}
	if o.Name != "" {
		opts = append(opts, nats.Name(o.Name))
	}
	if o.Reconnect {
		opts = append(opts, nats.ReconnectWait(o.ReconnectWait), nats.MaxReconnects(o.MaxReconnects))
	} else {
		opts = append(opts, nats.NoReconnect())
	}
	if o.Logger != nil {
		logger := o.Logger
		opts = append(opts,
			nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
				logger.Errorf("NATS error: %v", err)
			}),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				if err != nil {
					logger.Warnf("NATS disconnected from %s: %v", nc.ConnectedUrl(), err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
			}),
		)
	}
	return opts
}

// NATSDialer returns a Dialer that opens one NATS connection per address.
func NATSDialer(o ConnOptions) Dialer {
	return func(address string) (Bus, error) {
		bus, err := NewNATSBus(address, o.Options()...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, address, err)
		}
		return bus, nil
	}
}
