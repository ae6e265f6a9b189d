package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	// ErrMissingKey reads as "<key> is required" when wrapped.
	ErrMissingKey   = errors.New("required")
	ErrInvalidValue = errors.New("invalid value")
)

// ConfigValidator collects every configuration problem before failing.
type ConfigValidator struct {
	errs []error
}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

// Validate checks the configuration for issues
func (v *ConfigValidator) Validate(cfg *AppConfig) error {
	v.errs = nil

	v.require("directory.url", cfg.Directory.URL)
	v.require("directory.subject", cfg.Directory.Subject)
	v.require("discovery.url", cfg.Discovery.URL)
	v.require("discovery.subject", cfg.Discovery.Subject)
	v.require("session.secret", cfg.Session.Secret)
	v.require("session.store", cfg.Session.Store)
	v.require("gateway.cookie_name", cfg.Gateway.CookieName)
	v.require("gateway.notification_type", cfg.Gateway.NotificationType)

	v.validateSubjectPrefix(cfg.Publisher.SubjectPrefix)
	v.validateListenAddr("gateway.listen_addr", cfg.Gateway.ListenAddr, true)
	if cfg.Metrics.Enabled {
		v.validateListenAddr("metrics.listen_addr", cfg.Metrics.ListenAddr, true)
	}
	if cfg.Session.CacheSize < 0 {
		v.invalid("session.cache_size must not be negative")
	}

	if len(v.errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%w", errors.Join(v.errs...))
	}
	return nil
}

// Errors returns the problems found by the last Validate call.
func (v *ConfigValidator) Errors() []string {
	out := make([]string, 0, len(v.errs))
	for _, err := range v.errs {
		out = append(out, err.Error())
	}
	return out
}

func (v *ConfigValidator) missing(key string) {
	v.errs = append(v.errs, fmt.Errorf("%s is %w", key, ErrMissingKey))
}

func (v *ConfigValidator) invalid(format string, args ...interface{}) {
	v.errs = append(v.errs, fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...)))
}

func (v *ConfigValidator) require(key, value string) {
	if strings.TrimSpace(value) == "" {
		v.missing(key)
	}
}

func (v *ConfigValidator) validateSubjectPrefix(prefix string) {
	if prefix == "" {
		return
	}
	if strings.ContainsAny(prefix, " \t*>") || strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		v.invalid("publisher.subject_prefix %q is not a valid subject prefix", prefix)
	}
}

func (v *ConfigValidator) validateListenAddr(key, addr string, required bool) {
	if addr == "" {
		if required {
			v.missing(key)
		}
		return
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		v.invalid("%s %q: %v", key, addr, err)
		return
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		v.invalid("%s %q: port out of range", key, addr)
	}
}
