package session

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"notifybridge/internal/logging"
	"notifybridge/internal/metrics"
)

// DefaultKeyPrefix is the namespace Beaker writes sessions under.
const DefaultKeyPrefix = "beaker"

// Authenticator resolves session tokens to user ids. It never reports why a
// token did not resolve.
type Authenticator struct {
	secret        []byte
	store         Store
	keyPrefix     string
	lookupTimeout time.Duration
	logger        logging.Logger
	metrics       metrics.Provider
	cache         *expirable.LRU[string, string]
	now           func() time.Time
}

type Option func(*Authenticator)

func WithLogger(l logging.Logger) Option { return func(a *Authenticator) { a.logger = l } }

func WithMetrics(m metrics.Provider) Option { return func(a *Authenticator) { a.metrics = m } }

func WithKeyPrefix(p string) Option { return func(a *Authenticator) { a.keyPrefix = p } }

// WithLookupTimeout bounds each session store round trip.
func WithLookupTimeout(d time.Duration) Option {
	return func(a *Authenticator) { a.lookupTimeout = d }
}

// WithCache keeps up to size resolved sessions for ttl. A zero size or ttl
// disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(a *Authenticator) {
		if size > 0 && ttl > 0 {
			a.cache = expirable.NewLRU[string, string](size, nil, ttl)
		}
	}
}

func NewAuthenticator(secret []byte, store Store, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret:    append([]byte(nil), secret...),
		store:     store,
		keyPrefix: DefaultKeyPrefix,
		logger:    logging.NewDefaultLogger(),
		metrics:   metrics.Noop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SessionKey is the store key of sessionID.
func (a *Authenticator) SessionKey(sessionID string) string {
	return a.keyPrefix + ":" + sessionID + ":session"
}

// GetUser returns the user id behind token, or false.
func (a *Authenticator) GetUser(ctx context.Context, token string) (string, bool) {
	user, ok := a.resolve(ctx, token)
	if ok {
		a.metrics.IncCounter(metrics.AuthSuccess, 1)
	} else {
		a.metrics.IncCounter(metrics.AuthFailure, 1)
	}
	return user, ok
}

// GetUserAsync resolves token in the background and calls cb with the result.
func (a *Authenticator) GetUserAsync(token string, cb func(user string, ok bool)) {
	go func() {
		cb(a.GetUser(context.Background(), token))
	}()
}

func (a *Authenticator) resolve(ctx context.Context, token string) (string, bool) {
	sessionID, ok := VerifyToken(a.secret, token)
	if !ok {
		return "", false
	}
	a.logger.Debugf("Session ID: %s", sessionID)

	if a.cache != nil {
		if user, hit := a.cache.Get(sessionID); hit {
			return user, true
		}
	}

	if a.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.lookupTimeout)
		defer cancel()
	}
	started := a.now()
	blob, err := a.store.Get(ctx, a.SessionKey(sessionID))
	a.metrics.Observe(metrics.SessionLookupMs, float64(a.now().Sub(started).Microseconds())/1000)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		a.logger.Debugf("No session stored for %s", sessionID)
		return "", false
	case err != nil:
		a.logger.Errorf("Session lookup failed: %v", err)
		return "", false
	}

	user, err := UserFromSession(blob)
	if err != nil {
		a.logger.Debugf("Session %s did not resolve to a user: %v", sessionID, err)
		return "", false
	}
	a.logger.Debugf("Accessed information for: %s", user)
	if a.cache != nil {
		a.cache.Add(sessionID, user)
	}
	return user, true
}
