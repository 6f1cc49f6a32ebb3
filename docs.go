// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// rp is an OpenID Connect relying party for the authorization code flow.
// It authenticates users against an external identity provider, maps the
// provider's user to a local account and keeps a refreshable credential for
// that account.
//
// The packages, leaf first:
//
//	oidc            provider config, discovery cache, state store, token client
//	oidc/redisstate state store shared through Redis
//	account         local accounts, the identity resolver and the memory store
//	account/sqlite  SQLite account store
//	tokens          on demand access token refresh for accounts
//	session         signed session cookies
//	flow            the login, callback and logout flows and their http.Handler
//
// cmd/rp-server wires them into a runnable server.
package rp
