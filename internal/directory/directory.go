// Package directory finds publisher endpoints: once at startup through a
// request/reply directory, and afterwards through a discovery broadcast.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"notifybridge/internal/logging"
	"notifybridge/internal/messaging"
)

var (
	ErrNoPublishers   = errors.New("directory returned no publishers")
	ErrInvalidAddress = errors.New("invalid publisher address list")
)

// Request is the directory request body.
type Request struct {
	Type string `json:"type"`
}

const RequestGetPublishers = "get-publishers"

// ParseAddresses decodes a JSON array of endpoint strings. Blank entries are
// skipped.
func ParseAddresses(data []byte) ([]string, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	out := make([]string, 0, len(raw))
	for _, addr := range raw {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out, nil
}

// Client asks the directory for the current publisher list.
type Client struct {
	bus     messaging.Bus
	subject string
	logger  logging.Logger
}

func NewClient(bus messaging.Bus, subject string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Client{bus: bus, subject: subject, logger: logger}
}

// RequestPublishers sends one get-publishers request and waits for the reply.
// A reply that does not parse, or lists nothing, yields ErrNoPublishers. The
// wait is bounded only by ctx.
func (c *Client) RequestPublishers(ctx context.Context) ([]string, error) {
	body, err := json.Marshal(Request{Type: RequestGetPublishers})
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("Obtaining list of publishers from %s", c.subject)
	reply, err := c.bus.Request(ctx, c.subject, body)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	addrs, err := ParseAddresses(reply)
	if err != nil {
		c.logger.Warnf("Unparseable directory reply %q: %v", reply, err)
		return nil, fmt.Errorf("%w: %v", ErrNoPublishers, err)
	}
	if len(addrs) == 0 {
		return nil, ErrNoPublishers
	}
	return addrs, nil
}
