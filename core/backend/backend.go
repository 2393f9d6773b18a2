// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/roa/core/access"
	"github.com/relabs-tech/roa/core/cache"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/mapping"
	"github.com/relabs-tech/roa/core/metrics"
	"github.com/relabs-tech/roa/core/schema"
	"github.com/relabs-tech/roa/core/statement"
)

// Backend is the generic rest backend
type Backend struct {
	db        *csql.DB
	router    *mux.Router
	registry  *mapping.Registry
	validator *schema.Validator
	auth      *access.Authenticator
	caches    map[string]*cache.ResponseCache

	allowOrigin string
}

// CustomRoute is an additional route of a resource type. It is authenticated,
// secured and cached like the routes of the type itself.
type CustomRoute struct {
	// Type is the type path whose security and cache apply
	Type string
	// Route is the mux path template, for example "/persons/{key}/greeting"
	Route      string
	Method     string
	Middleware []mux.MiddlewareFunc
	// Handler writes the response. An error is reported to the client if
	// nothing was written yet.
	Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request, q csql.Querier, me *access.Identity) error
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resource types. This is mandatory.
	Config string
	// DB is the database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Extensions add security predicates, after-mutation hooks, query filters and
	// transforms to the resource types.
	Extensions mapping.Extensions
	// CustomRoutes are additional routes of resource types
	CustomRoutes []CustomRoute
	// Credentials checks basic credentials. This is mandatory unless all types are public.
	Credentials access.CredentialChecker
	// Identity resolves the identity of a principal. If nil and IdentityType is set,
	// the identity is the resource of IdentityType whose IdentityColumn equals the principal.
	Identity       access.IdentityResolver
	IdentityType   string
	IdentityColumn string
	// IdentityCache and SecretCache select the caching policy of the authenticator.
	// Both default to caches without expiry.
	IdentityCache access.Cache[*access.Identity]
	SecretCache   access.Cache[[32]byte]
	// SchemaRefs are JSON schemas with $id, which may be referenced by type schemas
	SchemaRefs []string
	// AllowOrigin is the allowed origin of cross-origin requests. Defaults to "*".
	AllowOrigin string
	// ForceHTTPS redirects plain http requests of non-local hosts to https
	ForceHTTPS bool
	// ExposeMetrics adds the route /metrics
	ExposeMetrics bool
	// CompressionLevel is the gzip level of compressed responses. Defaults to
	// gzip.DefaultCompression.
	CompressionLevel int
}

// New realizes the actual backend. It loads the resource types and adds
// their routes to the router.
func New(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	registry, err := mapping.Load([]byte(bb.Config), bb.Extensions)
	if err != nil {
		panic(err)
	}

	b := &Backend{
		db:        bb.DB,
		router:    bb.Router,
		registry:  registry,
		validator: schema.NewValidator(bb.SchemaRefs...),
		caches:    make(map[string]*cache.ResponseCache),

		allowOrigin: bb.AllowOrigin,
	}
	if b.allowOrigin == "" {
		b.allowOrigin = "*"
	}

	nillog := logger.FromContext(nil)
	needsAuthentication := false
	for _, rt := range registry.Types() {
		if !rt.Public {
			needsAuthentication = true
		}
		if rt.Schema != nil {
			if err := b.validator.Register(rt.Type, rt.Schema); err != nil {
				panic(fmt.Errorf("invalid configuration for %s: %w", rt.Type, err))
			}
		}
		if rt.Cache != nil {
			c, err := cache.New(rt.Type, *rt.Cache)
			if err != nil {
				panic(fmt.Errorf("invalid cache configuration for %s: %w", rt.Type, err))
			}
			b.caches[rt.Type] = c
		}
	}

	if needsAuthentication {
		if bb.Credentials == nil {
			panic("Credentials are missing")
		}
		resolver := bb.Identity
		if resolver == nil && bb.IdentityType != "" {
			rt, ok := registry.Lookup(bb.IdentityType)
			if !ok {
				panic("identity type " + bb.IdentityType + " does not exist")
			}
			resolver = b.identityFromType(rt, bb.IdentityColumn)
		}
		b.auth = access.NewAuthenticator(b.db, access.AuthenticatorConfig{
			Credentials:   bb.Credentials,
			Identity:      resolver,
			IdentityCache: bb.IdentityCache,
			SecretCache:   bb.SecretCache,
		})
	}

	logger.AddRequestID(b.router)
	logger.LogRequests(b.router)
	if bb.ForceHTTPS {
		b.handleForceHTTPS()
	}
	b.handleCORS()
	b.handleCompression(bb.CompressionLevel)

	for _, cr := range bb.CustomRoutes {
		if _, ok := registry.Lookup(cr.Type); !ok {
			panic("custom route " + cr.Route + " for unknown type " + cr.Type)
		}
	}
	for _, rt := range registry.Types() {
		nillog.Debugln("create resource type:", rt.Type)
		if rt.Description != "" {
			nillog.Debugln("  description:", rt.Description)
		}
		b.createResourceRoutes(rt, bb.CustomRoutes)
	}
	b.handleBatchRoute()
	b.handleMeRoute()
	b.handleLogRoute()
	if bb.ExposeMetrics {
		nillog.Debugln("  handle route: /metrics GET")
		b.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return b
}

// Registry returns the resource types of the backend
func (b *Backend) Registry() *mapping.Registry {
	return b.registry
}

// Cache returns the response cache of a type, or nil if the type is not cached
func (b *Backend) Cache(typePath string) *cache.ResponseCache {
	return b.caches[typePath]
}

// Authenticator returns the authenticator, or nil if all types are public
func (b *Backend) Authenticator() *access.Authenticator {
	return b.auth
}

// ClearIdentityCache forgets all cached credentials and identities, for example
// after passwords were changed outside of the backend
func (b *Backend) ClearIdentityCache() {
	if b.auth != nil {
		b.auth.InvalidateAll()
	}
}

func (b *Backend) identityFromType(rt *mapping.ResourceType, column string) access.IdentityResolver {
	if column == "" {
		column = rt.Key
	}
	return func(ctx context.Context, q csql.Querier, principal string) (*access.Identity, error) {
		st := statement.New("identity-"+rt.Table).
			SQL("select " + columnList(rt) + " from " + b.db.Table(rt.Table) + " where " + column + " = ").Param(principal)
		res, err := q.Execute(ctx, st)
		if err != nil {
			return nil, err
		}
		if len(res.Rows) != 1 {
			return nil, nil
		}
		resource, err := b.toResource(rt, res.Rows[0])
		if err != nil {
			return nil, err
		}
		return &access.Identity{Properties: resource.Map()}, nil
	}
}
