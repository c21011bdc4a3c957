package httpx

import (
	"time"

	"github.com/castmill/relay/pkg/logger"
)

type (
	Options struct {
		PortRoll     bool
		IdleTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		Logger       *logger.Logger
	}
	Option func(*Options)
)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func WithPortRoll(roll bool) Option        { return func(opts *Options) { opts.PortRoll = roll } }
func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }
func ReadTimeout(t time.Duration) Option   { return func(opts *Options) { opts.ReadTimeout = t } }
func WriteTimeout(t time.Duration) Option  { return func(opts *Options) { opts.WriteTimeout = t } }
