// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidSession   = errors.New("invalid session")
)
