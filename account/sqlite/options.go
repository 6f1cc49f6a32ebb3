// SPDX-License-Identifier: MPL-2.0

package sqlite

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withLogger      hclog.Logger
	withBusyTimeout time.Duration
}

func optionsDefaults() options {
	return options{
		withLogger:      hclog.NewNullLogger(),
		withBusyTimeout: DefaultBusyTimeout,
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

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithBusyTimeout overrides DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withBusyTimeout = d
		}
	}
}
