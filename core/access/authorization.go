// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package access provides authentication and identity resolution.

Requests authenticate with HTTP Basic credentials. The Authenticator checks
them against the store and resolves the identity of the principal, the
document a client sees under /me. Both results are cached by principal:

	ctx = access.ContextWithPrincipal(ctx, principal)

and retrieved with

	principal := access.PrincipalFromContext(ctx)
*/
package access

import (
	"context"

	"github.com/goccy/go-json"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyPrincipal contextKey = "_principal_"
)

// Identity is the resolved identity of an authenticated principal. Properties
// is the identity document as returned to the client.
type Identity struct {
	Principal  string
	Properties map[string]interface{}
}

// MarshalJSON marshals the identity document
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i.Properties == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(i.Properties)
}

// Property returns the value of a property of the identity document
func (i *Identity) Property(name string) (interface{}, bool) {
	if i == nil || i.Properties == nil {
		return nil, false
	}
	value, ok := i.Properties[name]
	return value, ok
}

// Href returns the href of a reference property of the identity document,
// for example the community a person belongs to.
func (i *Identity) Href(name string) (string, bool) {
	value, ok := i.Property(name)
	if !ok {
		return "", false
	}
	ref, ok := value.(map[string]interface{})
	if !ok {
		return "", false
	}
	href, ok := ref["href"].(string)
	return href, ok
}

// ContextWithPrincipal returns a new context with the authenticated principal
func ContextWithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, principal)
}

// PrincipalFromContext retrieves the authenticated principal from a request context,
// or the empty string for unauthenticated requests
func PrincipalFromContext(ctx context.Context) string {
	principal, _ := ctx.Value(contextKeyPrincipal).(string)
	return principal
}
