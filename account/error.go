// SPDX-License-Identifier: MPL-2.0

package account

import "errors"

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrNilParameter          = errors.New("nil parameter")
	ErrNotFound              = errors.New("account not found")
	ErrDuplicate             = errors.New("account already exists")
	ErrRegistrationDisabled  = errors.New("registration is disabled")
	ErrNoEmail               = errors.New("no email address provided")
	ErrAccountCreationFailed = errors.New("account creation failed")
)
