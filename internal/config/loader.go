package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DirectoryConfig struct {
	URL            string        `mapstructure:"url"`
	Subject        string        `mapstructure:"subject"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DiscoveryConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type PublisherConfig struct {
	// Per-recipient subjects are <subject_prefix>.<recipient>
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type NATSConfig struct {
	Name          string        `mapstructure:"name"`
	Reconnect     bool          `mapstructure:"reconnect"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

type SessionConfig struct {
	// Shared with the web application (beaker.session.secret)
	Secret string `mapstructure:"secret"`
	// host:port or redis:// URL (beaker.session.urls)
	Store         string        `mapstructure:"store"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
	CacheSize     int           `mapstructure:"cache_size"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type GatewayConfig struct {
	ListenAddr       string `mapstructure:"listen_addr"`
	CookieName       string `mapstructure:"cookie_name"`
	NotificationType string `mapstructure:"notification_type"`
	SendBuffer       int    `mapstructure:"send_buffer"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"` // e.g., 0.0.0.0:9095
}

type AppConfig struct {
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Session   SessionConfig   `mapstructure:"session"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// setDefaults registers every default with viper so env overrides work for
// keys the file does not mention.
func setDefaults(v *viper.Viper) {
	for _, key := range []string{
		"directory.url", "discovery.url", "session.secret", "session.store",
		"gateway.cookie_name", "gateway.notification_type",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("directory.subject", "notifications.publishers.get")
	v.SetDefault("directory.request_timeout", DefaultDirectoryTimeout)
	v.SetDefault("discovery.subject", "notifications.publishers")
	v.SetDefault("publisher.subject_prefix", "notifications")
	v.SetDefault("nats.name", "notifybridge")
	v.SetDefault("nats.reconnect", false)
	v.SetDefault("nats.reconnect_wait", DefaultReconnectWait)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("session.key_prefix", "beaker")
	v.SetDefault("session.lookup_timeout", DefaultLookupTimeout)
	v.SetDefault("session.cache_size", 0)
	v.SetDefault("session.cache_ttl", time.Duration(0))
	v.SetDefault("gateway.listen_addr", ":5886")
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9095")
}

// Load reads a YAML file. Every key can be overridden from the environment
// as NOTIFYBRIDGE_<SECTION>_<KEY>, e.g. NOTIFYBRIDGE_SESSION_SECRET.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("notifybridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	validator := NewConfigValidator()
	if err := validator.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	trim := func(s *string) { *s = strings.TrimSpace(*s) }
	trim(&c.Directory.URL)
	trim(&c.Directory.Subject)
	trim(&c.Discovery.URL)
	trim(&c.Discovery.Subject)
	trim(&c.Session.Store)
	trim(&c.Gateway.CookieName)
	trim(&c.Gateway.NotificationType)

	if c.Directory.RequestTimeout <= 0 {
		c.Directory.RequestTimeout = DefaultDirectoryTimeout
	}
	if c.Session.LookupTimeout < 0 {
		c.Session.LookupTimeout = 0
	}
	if c.NATS.MaxReconnects < 0 {
		c.NATS.MaxReconnects = 0
	}
	if c.Gateway.SendBuffer <= 0 {
		c.Gateway.SendBuffer = 64
	}
}

// Summary is a one-line description safe to log (no secret).
func (c *AppConfig) Summary() string {
	return fmt.Sprintf("directory=%s (%s) discovery=%s (%s) store=%s gateway=%s metrics=%v",
		c.Directory.URL, c.Directory.Subject,
		c.Discovery.URL, c.Discovery.Subject,
		c.Session.Store, c.Gateway.ListenAddr, c.Metrics.Enabled)
}
