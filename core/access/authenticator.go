// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/metrics"
)

// IdentityResolver resolves the identity document of an authenticated principal.
// It returns nil if the principal has no identity.
type IdentityResolver func(ctx context.Context, q csql.Querier, principal string) (*Identity, error)

// AuthenticatorConfig configures an Authenticator
type AuthenticatorConfig struct {
	// Credentials checks secrets. This is mandatory.
	Credentials CredentialChecker
	// Identity resolves identities. If nil, the identity is just the principal.
	Identity IdentityResolver
	// SecretCache caches digests of successfully checked secrets. Defaults to a MemoryCache.
	SecretCache Cache[[sha256.Size]byte]
	// IdentityCache caches resolved identities. Defaults to a MemoryCache.
	IdentityCache Cache[*Identity]
	// Realm is announced in the authentication challenge
	Realm string
}

// Authenticator authenticates requests with HTTP Basic credentials
type Authenticator struct {
	db          *csql.DB
	credentials CredentialChecker
	resolver    IdentityResolver
	secrets     Cache[[sha256.Size]byte]
	identities  Cache[*Identity]
	realm       string
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(db *csql.DB, config AuthenticatorConfig) *Authenticator {
	if config.Credentials == nil {
		panic("credential checker is missing")
	}
	a := &Authenticator{
		db:          db,
		credentials: config.Credentials,
		resolver:    config.Identity,
		secrets:     config.SecretCache,
		identities:  config.IdentityCache,
		realm:       config.Realm,
	}
	if a.secrets == nil {
		a.secrets = NewMemoryCache[[sha256.Size]byte]()
	}
	if a.identities == nil {
		a.identities = NewMemoryCache[*Identity]()
	}
	if a.realm == "" {
		a.realm = "restricted"
	}
	return a
}

// Authenticate checks the basic credentials of r and returns the principal. Missing
// or invalid credentials yield a *core.ForbiddenError with Unauthenticated set.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	ctx := r.Context()
	principal, secret, ok := r.BasicAuth()
	if !ok || principal == "" {
		metrics.AuthenticationsTotal.WithLabelValues("missing").Inc()
		return "", &core.ForbiddenError{Unauthenticated: true}
	}

	digest := sha256.Sum256([]byte(secret))
	if known, ok := a.secrets.Read(principal); ok && subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
		metrics.AuthenticationsTotal.WithLabelValues("cached").Inc()
		return principal, nil
	}

	conn, err := a.db.Acquire(ctx)
	if err != nil {
		return "", err
	}
	valid, err := a.credentials.Check(ctx, conn, principal, secret)
	conn.Release(core.IsFatal(err))
	if err != nil {
		return "", err
	}
	if !valid {
		metrics.AuthenticationsTotal.WithLabelValues("invalid").Inc()
		logger.FromContext(ctx).Infoln("invalid credentials for", principal)
		return "", &core.ForbiddenError{Unauthenticated: true, Reason: "invalid credentials"}
	}
	metrics.AuthenticationsTotal.WithLabelValues("valid").Inc()
	a.secrets.Write(principal, digest)
	return principal, nil
}

// Challenge asks the client for basic credentials
func (a *Authenticator) Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+a.realm+`"`)
}

// Me returns the identity of principal
func (a *Authenticator) Me(ctx context.Context, principal string) (*Identity, error) {
	if identity, ok := a.identities.Read(principal); ok {
		return identity, nil
	}
	if a.resolver == nil {
		identity := &Identity{Principal: principal, Properties: map[string]interface{}{"principal": principal}}
		a.identities.Write(principal, identity)
		return identity, nil
	}

	conn, err := a.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	identity, err := a.resolver(ctx, conn, principal)
	conn.Release(core.IsFatal(err))
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, &core.ForbiddenError{Unauthenticated: true, Reason: "principal has no identity"}
	}
	identity.Principal = principal
	a.identities.Write(principal, identity)
	return identity, nil
}

// Invalidate forgets the cached secret and identity of principal
func (a *Authenticator) Invalidate(principal string) {
	a.secrets.Invalidate(principal)
	a.identities.Invalidate(principal)
}

// InvalidateAll forgets all cached secrets and identities
func (a *Authenticator) InvalidateAll() {
	a.secrets.InvalidateAll()
	a.identities.InvalidateAll()
}
