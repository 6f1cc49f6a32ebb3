// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withLogger    hclog.Logger
	withNotifiers []LoginNotifier
}

func optionsDefaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
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

// WithLoginNotifier adds a notifier.  Notifiers run in the order added.
func WithLoginNotifier(n LoginNotifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && n != nil {
			o.withNotifiers = append(o.withNotifiers, n)
		}
	}
}
