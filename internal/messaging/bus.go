package messaging

import (
	"context"
	"errors"
	"io"
)

var (
	ErrBusClosed   = errors.New("messaging: bus is closed")
	ErrUnreachable = errors.New("messaging: endpoint unreachable")
)

// Bus is a pluggable messaging interface for broadcast, subscription and
// request/reply against a single endpoint.
// Implementations may adapt NATS, libp2p, Kafka, etc.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func([]byte)) (io.Closer, error)
	// Request sends data and waits for exactly one reply, or until ctx is done.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	Close() error
}

// Batcher is implemented by buses whose Subscribe waits for the server to
// acknowledge interest. SubscribeAsync only queues the subscription; Flush
// waits for everything queued so far.
type Batcher interface {
	SubscribeAsync(subject string, handler func([]byte)) (io.Closer, error)
	Flush() error
}

// Dialer opens a Bus against an endpoint address.
type Dialer func(address string) (Bus, error)

type closerFunc func() error

func (c closerFunc) Close() error { return c() }
