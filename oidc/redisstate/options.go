// SPDX-License-Identifier: MPL-2.0

package redisstate

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/nextidentity/rp/oidc"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withTTL       time.Duration
	withKeyPrefix string
	withLogger    hclog.Logger
	withClock     clockwork.Clock
}

func optionsDefaults() options {
	return options{
		withTTL:       oidc.DefaultStateTTL,
		withKeyPrefix: DefaultKeyPrefix,
		withLogger:    hclog.NewNullLogger(),
		withClock:     clockwork.NewRealClock(),
	}
}

func getOpts(opt ...Option) options {
	opts := optionsDefaults()
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithTTL provides an optional state time-to-live.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withTTL = d
		}
	}
}

// WithKeyPrefix provides an optional key prefix.
func WithKeyPrefix(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && p != "" {
			o.withKeyPrefix = p
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && c != nil {
			o.withClock = c
		}
	}
}
