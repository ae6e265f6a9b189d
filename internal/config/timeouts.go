package config

import "time"

const (
	DefaultDirectoryTimeout = 10 * time.Second
	DefaultLookupTimeout    = 5 * time.Second
	DefaultReconnectWait    = 2 * time.Second
)
