// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"

	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/oidc"
)

// LoginNotifier is told about every completed login.  It runs once the
// session has been established and can't fail the login.
type LoginNotifier interface {
	LoginOccurred(ctx context.Context, a *account.LocalAccount, identity *oidc.ExternalIdentity)
}

// NotifierFunc adapts a function to a LoginNotifier.
type NotifierFunc func(ctx context.Context, a *account.LocalAccount, identity *oidc.ExternalIdentity)

// LoginOccurred calls f.
func (f NotifierFunc) LoginOccurred(ctx context.Context, a *account.LocalAccount, identity *oidc.ExternalIdentity) {
	f(ctx, a, identity)
}

// Chain returns a notifier calling each of notifiers in order.  A login is
// usually followed by the profile-updated listeners.
func Chain(notifiers ...LoginNotifier) LoginNotifier {
	return chain(notifiers)
}

type chain []LoginNotifier

func (c chain) LoginOccurred(ctx context.Context, a *account.LocalAccount, identity *oidc.ExternalIdentity) {
	for _, n := range c {
		if n != nil {
			n.LoginOccurred(ctx, a, identity)
		}
	}
}
