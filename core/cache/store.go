// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Section is a partition of a response cache
type Section string

// the sections of a response cache, in lookup order
const (
	SectionResources Section = "resources"
	SectionList      Section = "list"
	SectionCustom    Section = "custom"
)

// Sections lists all sections in lookup order
var Sections = []Section{SectionResources, SectionList, SectionCustom}

// Response is a stored response. Only successful responses are stored.
type Response struct {
	Header     map[string]string `json:"header,omitempty"`
	Body       []byte            `json:"body"`
	Permalinks []string          `json:"permalinks,omitempty"`
}

// Store is a key-value store for responses. Get returns nil on a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, response *Response) error
	Del(ctx context.Context, key string) error
	FlushAll(ctx context.Context) error
}

// Backend provides the stores of all sections of one response cache
type Backend interface {
	Store(section Section) Store
}

// Factory creates a backend for a policy. The namespace separates the
// caches of different resource types which share a backend.
type Factory func(policy Policy, namespace string) (Backend, error)

// RedisOptions configures the connection to a redis server
type RedisOptions struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Policy configures the response cache of a resource type
type Policy struct {
	// Kind selects the backend, "local" or "redis"
	Kind string `json:"kind"`
	// TTL is the time to live of entries in seconds
	TTL int `json:"ttl"`
	// Capacity is the maximum number of entries per section of a local cache
	Capacity int          `json:"capacity"`
	Redis    RedisOptions `json:"redis"`
}

// Duration returns the time to live of entries
func (p Policy) Duration() time.Duration {
	if p.TTL <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.TTL) * time.Second
}

var (
	factoriesMutex sync.RWMutex
	factories      = map[string]Factory{
		"local": newLocalBackend,
		"redis": newRedisBackend,
	}
)

// RegisterBackend registers a backend factory under a kind
func RegisterBackend(kind string, factory Factory) {
	factoriesMutex.Lock()
	defer factoriesMutex.Unlock()
	factories[kind] = factory
}

// HasBackend returns true if a backend is registered for kind
func HasBackend(kind string) bool {
	factoriesMutex.RLock()
	defer factoriesMutex.RUnlock()
	_, ok := factories[kind]
	return ok
}

func newBackend(policy Policy, namespace string) (Backend, error) {
	kind := policy.Kind
	if kind == "" {
		kind = "local"
	}
	factoriesMutex.RLock()
	factory, ok := factories[kind]
	factoriesMutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown cache kind '%s'", kind)
	}
	return factory(policy, namespace)
}
