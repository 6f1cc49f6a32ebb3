// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for acting as a relying party in the OIDC authorization code
flow against a single provider.

Primary types provided by the package

* Config: the relying party's client id/secret, redirect URL, scopes and
provider base URL.

* DiscoveryCache: fetches and caches a provider's discovery document
(ProviderMetadata) for a TTL.  Failures are never cached.

* StateStore: issues and atomically redeems single use state tokens, each
optionally carrying where to send the user after login.  MemoryStateStore is
the in-process implementation; see the redisstate package for one shared
between processes.

* TokenClient: exchanges codes for a TokenSet, refreshes tokens, and fetches
userinfo claims (or sources them from the id_token).

* ExternalIdentity: the user as described by the provider's claims.

* AccessToken, RefreshToken, IDToken and ClientSecret: string types which
redact themselves when printed or marshaled to json.

* TestProvider: a local https provider to write tests against.
*/
package oidc
