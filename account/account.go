// SPDX-License-Identifier: MPL-2.0

package account

import (
	"context"
	"time"

	"github.com/nextidentity/rp/oidc"
)

// LocalAccount is a user of the relying party.  ExternalSubject links it to
// the provider's user and is unique across accounts.
type LocalAccount struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	GivenName    string
	FamilyName   string
	Role         string
	PasswordHash []byte

	ExternalSubject string
	Tokens          *oidc.TokenSet
	Claims          map[string]interface{}
	AvatarURL       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLinked reports whether the account is linked to a provider user.
func (a *LocalAccount) IsLinked() bool {
	return a != nil && a.ExternalSubject != ""
}

// Clone returns a deep enough copy that mutating it never changes a.  Claim
// values are shared since they're treated as immutable.
func (a *LocalAccount) Clone() *LocalAccount {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Tokens = a.Tokens.Clone()
	if a.PasswordHash != nil {
		cp.PasswordHash = append([]byte(nil), a.PasswordHash...)
	}
	if a.Claims != nil {
		cp.Claims = make(map[string]interface{}, len(a.Claims))
		for k, v := range a.Claims {
			cp.Claims[k] = v
		}
	}
	return &cp
}

// Store persists accounts.  Lookups return ErrNotFound when nothing matches.
// Create and Update return ErrDuplicate when the username, email or external
// subject already belongs to another account.  Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (*LocalAccount, error)
	FindBySubject(ctx context.Context, subject string) (*LocalAccount, error)
	FindByEmail(ctx context.Context, email string) (*LocalAccount, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, a *LocalAccount) error
	Update(ctx context.Context, a *LocalAccount) error
}
