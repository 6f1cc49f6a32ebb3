// SPDX-License-Identifier: MPL-2.0

package tokens

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withLogger      hclog.Logger
	withClock       clockwork.Clock
	withRefreshSkew time.Duration
}

func optionsDefaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
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

// WithClock provides an optional clock.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithRefreshSkew treats access tokens as expired this long before their
// expiry.  The default is zero.
func WithRefreshSkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d >= 0 {
			o.withRefreshSkew = d
		}
	}
}
