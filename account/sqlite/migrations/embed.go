// SPDX-License-Identifier: MPL-2.0

// Package migrations holds the account store schema.
package migrations

import "embed"

// FS contains the ordered .sql migration files.
//
//go:embed *.sql
var FS embed.FS
