package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/beacon/internal/clock"
)

const (
	// DefaultTimeout bounds how long a request waits for its response.
	DefaultTimeout = 30 * time.Second

	// DefaultReconnectDelay is the fixed pause before each automatic
	// reconnect attempt after an unexpected close.
	DefaultReconnectDelay = 2 * time.Second

	// DefaultMaxReconnects bounds automatic reconnect attempts. Past
	// it the connection stays down until a caller triggers a fresh
	// connect via SendCommand or Connect.
	DefaultMaxReconnects = 3
)

type Options struct {
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration

	// ReconnectDelay overrides DefaultReconnectDelay when positive.
	ReconnectDelay time.Duration

	// MaxReconnects overrides DefaultMaxReconnects when positive.
	MaxReconnects int

	// Clock drives timeout eviction and reconnect scheduling. Tests
	// inject a mock; nil means the runtime clock.
	Clock clock.Clock

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}

	if o.MaxReconnects <= 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}

	if o.Clock == nil {
		o.Clock = clock.New()
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
