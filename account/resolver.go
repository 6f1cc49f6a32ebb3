// SPDX-License-Identifier: MPL-2.0

package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/nextidentity/rp/oidc"
	"github.com/nextidentity/rp/sdk/id"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultRole is assigned to provisioned accounts when none is configured.
	DefaultRole = "subscriber"

	// placeholderCredentialBytes is the entropy of the credential generated
	// for provisioned accounts.  It's never disclosed; authentication is
	// always delegated to the provider.
	placeholderCredentialBytes = 24

	// maxCreateAttempts bounds retries when a generated username is taken
	// between checking and creating.
	maxCreateAttempts = 3
)

// ResolutionConfig controls how unknown identities are handled.
type ResolutionConfig struct {
	// AutoRegister allows accounts to be provisioned for unknown identities.
	AutoRegister bool

	// DefaultRole is the role of provisioned accounts.  Defaults to
	// DefaultRole.
	DefaultRole string
}

// DefaultResolutionConfig allows registration with the subscriber role.
func DefaultResolutionConfig() ResolutionConfig {
	return ResolutionConfig{AutoRegister: true, DefaultRole: DefaultRole}
}

// Resolver maps a provider identity to a local account.
type Resolver struct {
	store      Store
	logger     hclog.Logger
	clock      clockwork.Clock
	bcryptCost int
}

// NewResolver creates a Resolver over the store.
// Supported options:
//
//	WithLogger
//	WithClock
//	WithBcryptCost
func NewResolver(store Store, opt ...Option) (*Resolver, error) {
	const op = "account.NewResolver"
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Resolver{
		store:      store,
		logger:     opts.withLogger.Named("resolver"),
		clock:      opts.withClock,
		bcryptCost: opts.withBcryptCost,
	}, nil
}

// Resolve finds or creates the account for the identity and records the
// identity's claims and tokens on it.  In order:
//
//   - an account already linked to identity.Subject is updated and returned
//   - with registration disabled, ErrRegistrationDisabled
//   - without an email, ErrNoEmail
//   - an account with the same email is linked, updated and returned
//   - otherwise a new account is provisioned
//
// Store failures while provisioning wrap ErrAccountCreationFailed.
func (r *Resolver) Resolve(ctx context.Context, identity *oidc.ExternalIdentity, tokens *oidc.TokenSet, cfg ResolutionConfig) (*LocalAccount, error) {
	const op = "Resolver.Resolve"
	if identity == nil {
		return nil, fmt.Errorf("%s: identity is nil: %w", op, ErrNilParameter)
	}
	if identity.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, oidc.ErrNoSubject)
	}

	a, err := r.store.FindBySubject(ctx, identity.Subject)
	switch {
	case err == nil:
		r.logger.Debug("returning user", "account_id", a.ID)
		return r.update(ctx, a, identity, tokens)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !cfg.AutoRegister {
		return nil, fmt.Errorf("%s: %w", op, ErrRegistrationDisabled)
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoEmail)
	}

	a, err = r.store.FindByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		if a.ExternalSubject != "" && a.ExternalSubject != identity.Subject {
			r.logger.Warn("relinking account to a different provider subject", "account_id", a.ID)
		} else {
			r.logger.Info("linking existing account by email", "account_id", a.ID)
		}
		a.ExternalSubject = identity.Subject
		return r.update(ctx, a, identity, tokens)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return r.provision(ctx, identity, tokens, cfg)
}

func (r *Resolver) update(ctx context.Context, a *LocalAccount, identity *oidc.ExternalIdentity, tokens *oidc.TokenSet) (*LocalAccount, error) {
	const op = "Resolver.update"
	applyClaims(a, identity)
	a.Tokens = MergeTokens(a.Tokens, tokens)
	a.UpdatedAt = r.clock.Now()
	if err := r.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

func (r *Resolver) provision(ctx context.Context, identity *oidc.ExternalIdentity, tokens *oidc.TokenSet, cfg ResolutionConfig) (*LocalAccount, error) {
	const op = "Resolver.provision"
	hash, err := r.placeholderCredential()
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrAccountCreationFailed)
	}
	role := cfg.DefaultRole
	if role == "" {
		role = DefaultRole
	}

	var lastErr error
	for i := 0; i < maxCreateAttempts; i++ {
		accountID, err := id.New("acct")
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, err, ErrAccountCreationFailed)
		}
		username, err := GenerateUsername(ctx, r.store, identity)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, err, ErrAccountCreationFailed)
		}
		now := r.clock.Now()
		a := &LocalAccount{
			ID:              accountID,
			Username:        username,
			Email:           identity.Email,
			DisplayName:     identity.DisplayName(),
			GivenName:       identity.GivenName,
			FamilyName:      identity.FamilyName,
			Role:            role,
			PasswordHash:    hash,
			ExternalSubject: identity.Subject,
			Tokens:          MergeTokens(nil, tokens),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		applyClaims(a, identity)

		err = r.store.Create(ctx, a)
		if err == nil {
			r.logger.Info("provisioned account", "account_id", a.ID, "username", a.Username, "role", a.Role)
			return a, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return nil, fmt.Errorf("%s: %s: %w", op, err, ErrAccountCreationFailed)
		}
		// a concurrent login for the same subject may have won the race
		if existing, findErr := r.store.FindBySubject(ctx, identity.Subject); findErr == nil {
			return r.update(ctx, existing, identity, tokens)
		}
		lastErr = err
		r.logger.Debug("account conflict while provisioning, retrying", "error", err)
	}
	return nil, fmt.Errorf("%s: %s: %w", op, lastErr, ErrAccountCreationFailed)
}

func (r *Resolver) placeholderCredential() ([]byte, error) {
	secret, err := id.Token(placeholderCredentialBytes)
	if err != nil {
		return nil, err
	}
	return bcrypt.GenerateFromPassword([]byte(secret), r.bcryptCost)
}

// applyClaims caches the identity's claims and avatar on the account.  Names
// are local profile data once the account exists and are left alone.  The
// avatar is only overwritten when the provider sent one.
func applyClaims(a *LocalAccount, identity *oidc.ExternalIdentity) {
	a.Claims = identity.RawClaims
	if identity.Picture != "" {
		a.AvatarURL = identity.Picture
	}
}

// MergeTokens returns next with the refresh and id tokens of prev carried
// over when next doesn't have them.  A nil next returns a copy of prev.
func MergeTokens(prev, next *oidc.TokenSet) *oidc.TokenSet {
	if next == nil {
		return prev.Clone()
	}
	merged := next.Clone()
	if prev != nil {
		if merged.RefreshToken == "" {
			merged.RefreshToken = prev.RefreshToken
		}
		if merged.IDToken == "" {
			merged.IDToken = prev.IDToken
		}
	}
	return merged
}
