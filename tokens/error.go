// SPDX-License-Identifier: MPL-2.0

package tokens

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
)
