// SPDX-License-Identifier: MPL-2.0

package account

import (
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withLogger     hclog.Logger
	withClock      clockwork.Clock
	withBcryptCost int
}

func optionsDefaults() options {
	return options{
		withLogger:     hclog.NewNullLogger(),
		withClock:      clockwork.NewRealClock(),
		withBcryptCost: bcrypt.DefaultCost,
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

// WithBcryptCost provides an optional cost for hashing placeholder
// credentials.  Costs outside bcrypt's range are ignored.
func WithBcryptCost(cost int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			o.withBcryptCost = cost
		}
	}
}
