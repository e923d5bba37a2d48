package streaminghttp

import (
	"log/slog"
	"time"
)

const (
	defaultRequestTimeout = 5 * time.Minute
	queueSize             = 64
	messagePath           = "/message"
)

// Option configures the session manager and the router.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	requestTimeout time.Duration
}

func newConfig(opts []Option) *config {
	cfg := &config{
		logger:         slog.Default(),
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestTimeout bounds how long a POST waits for its response before
// answering 504.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}
