package directory

import (
	"errors"
	"io"
	"sync"

	"notifybridge/internal/logging"
	"notifybridge/internal/messaging"
)

// PublisherAdder receives newly announced publisher addresses.
type PublisherAdder interface {
	AddPublisher(address string) error
}

// Listener follows the discovery broadcast for publishers that come up
// after startup. It never removes publishers.
type Listener struct {
	bus     messaging.Bus
	subject string
	adder   PublisherAdder
	logger  logging.Logger

	mu  sync.Mutex
	sub io.Closer
}

func NewListener(bus messaging.Bus, subject string, adder PublisherAdder, logger logging.Logger) *Listener {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Listener{bus: bus, subject: subject, adder: adder, logger: logger}
}

func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		return errors.New("discovery listener already started")
	}
	sub, err := l.bus.Subscribe(l.subject, l.handle)
	if err != nil {
		return err
	}
	l.sub = sub
	l.logger.Infof("Listening for new publishers on %s", l.subject)
	return nil
}

func (l *Listener) handle(data []byte) {
	l.logger.Debugf("Received list of publishers: %s", data)
	addrs, err := ParseAddresses(data)
	if err != nil {
		l.logger.Warnf("Ignoring discovery broadcast %q: %v", data, err)
		return
	}
	for _, addr := range addrs {
		// failures are logged by the adder; keep going with the rest
		_ = l.adder.AddPublisher(addr)
	}
}

func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub == nil {
		return nil
	}
	err := l.sub.Close()
	l.sub = nil
	return err
}
