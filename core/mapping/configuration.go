// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package mapping

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/cache"
	"github.com/relabs-tech/roa/core/security"
)

// Configuration holds the complete mapping configuration
type Configuration struct {
	BatchOrder BatchOrder              `json:"batch_order"`
	Resources  []resourceConfiguration `json:"resources"`
}

// resourceConfiguration describes a resource type
type resourceConfiguration struct {
	Type        string                        `json:"type"`
	Table       string                        `json:"table"`
	Key         string                        `json:"key"`
	Public      bool                          `json:"public"`
	Description string                        `json:"description"`
	Fields      []fieldConfiguration          `json:"fields"`
	Query       map[string]queryConfiguration `json:"query"`
	Cache       *cache.Policy                 `json:"cache"`
	Schema      json.RawMessage               `json:"schema"`
}

// fieldConfiguration describes a mapped field
type fieldConfiguration struct {
	Name       string          `json:"name"`
	References string          `json:"references"`
	WriteOnly  bool            `json:"write_only"`
	OnRead     json.RawMessage `json:"onread"`
	OnInsert   json.RawMessage `json:"oninsert"`
	OnUpdate   json.RawMessage `json:"onupdate"`
}

// queryConfiguration describes a declarative list filter
type queryConfiguration struct {
	Column     string `json:"column"`
	References string `json:"references"`
}

// Extensions are the parts of a mapping which can only be given in code. All
// maps are keyed by type path.
type Extensions struct {
	Security     map[string][]security.Predicate
	AfterInsert  map[string][]AfterHook
	AfterUpdate  map[string][]AfterHook
	AfterDelete  map[string][]AfterHook
	QueryFilters map[string]map[string]QueryFilter
	// Transforms are named transforms for {"transform": "name"} hooks
	Transforms map[string]Transform
}

// DefaultKey is the key column if a type does not name one
const DefaultKey = "guid"

// reserved parameters of list queries, which cannot be used as filter names
var reservedParameters = map[string]bool{
	"orderby": true, "descending": true, "limit": true, "offset": true, "expand": true,
}

var (
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	typePath   = regexp.MustCompile(`^(/[A-Za-z0-9_\-]+)+$`)
)

// Load parses a JSON mapping configuration and combines it with extensions.
// Invalid configurations yield *core.ConfigurationError.
func Load(config []byte, extensions Extensions) (*Registry, error) {
	var configuration Configuration
	if err := json.Unmarshal(config, &configuration); err != nil {
		return nil, &core.ConfigurationError{Reason: "parse error: " + err.Error()}
	}

	registry := &Registry{
		BatchOrder: configuration.BatchOrder,
		types:      make(map[string]*ResourceType),
	}
	switch registry.BatchOrder {
	case "":
		registry.BatchOrder = BatchReverse
	case BatchReverse, BatchInput:
	default:
		return nil, &core.ConfigurationError{Reason: "unknown batch order '" + string(registry.BatchOrder) + "'"}
	}

	for i := range configuration.Resources {
		rt, err := newResourceType(&configuration.Resources[i], extensions)
		if err != nil {
			return nil, err
		}
		if _, ok := registry.types[rt.Type]; ok {
			return nil, &core.ConfigurationError{Resource: rt.Type, Reason: "duplicate type"}
		}
		registry.types[rt.Type] = rt
		registry.order = append(registry.order, rt)
	}

	// references and extensions must name known types
	for _, rt := range registry.order {
		for _, f := range rt.Fields {
			if f.References == "" {
				continue
			}
			if _, ok := registry.types[f.References]; !ok {
				return nil, &core.ConfigurationError{Resource: rt.Type, Reason: "field " + f.Name + " references unknown type " + f.References}
			}
		}
		for name, filter := range rt.Query {
			if ref, ok := filter.(ReferenceFilter); ok {
				if _, ok := registry.types[ref.References]; !ok {
					return nil, &core.ConfigurationError{Resource: rt.Type, Reason: "query " + name + " references unknown type " + ref.References}
				}
			}
		}
	}
	for _, m := range []map[string][]AfterHook{extensions.AfterInsert, extensions.AfterUpdate, extensions.AfterDelete} {
		for t := range m {
			if _, ok := registry.types[t]; !ok {
				return nil, &core.ConfigurationError{Resource: t, Reason: "hook for unknown type"}
			}
		}
	}
	for t := range extensions.Security {
		if _, ok := registry.types[t]; !ok {
			return nil, &core.ConfigurationError{Resource: t, Reason: "security for unknown type"}
		}
	}
	for t := range extensions.QueryFilters {
		if _, ok := registry.types[t]; !ok {
			return nil, &core.ConfigurationError{Resource: t, Reason: "query filter for unknown type"}
		}
	}
	return registry, nil
}

func newResourceType(rc *resourceConfiguration, extensions Extensions) (*ResourceType, error) {
	if !typePath.MatchString(rc.Type) {
		return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "invalid type path"}
	}
	rt := &ResourceType{
		Type:        rc.Type,
		Table:       rc.Table,
		Key:         rc.Key,
		Public:      rc.Public,
		Description: rc.Description,
		Cache:       rc.Cache,
		Security:    extensions.Security[rc.Type],
		AfterInsert: extensions.AfterInsert[rc.Type],
		AfterUpdate: extensions.AfterUpdate[rc.Type],
		AfterDelete: extensions.AfterDelete[rc.Type],
		Query:       make(map[string]QueryFilter),
		fields:      make(map[string]*Field),
	}
	if rt.Table == "" {
		rt.Table = rc.Type[strings.LastIndex(rc.Type, "/")+1:]
	}
	if rt.Key == "" {
		rt.Key = DefaultKey
	}
	if !identifier.MatchString(rt.Table) || !identifier.MatchString(rt.Key) {
		return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "invalid table or key name"}
	}
	if len(rc.Schema) > 0 && string(rc.Schema) != "null" {
		rt.Schema = rc.Schema
	}
	if rt.Cache != nil && rt.Cache.Kind != "" && !cache.HasBackend(rt.Cache.Kind) {
		return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "unknown cache kind " + rt.Cache.Kind}
	}

	for _, fc := range rc.Fields {
		if !identifier.MatchString(fc.Name) {
			return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "invalid field name '" + fc.Name + "'"}
		}
		if fc.Name == "href" || fc.Name == "meta" || fc.Name == rt.Key {
			return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "reserved field name '" + fc.Name + "'"}
		}
		if _, ok := rt.fields[fc.Name]; ok {
			return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "duplicate field '" + fc.Name + "'"}
		}
		f := &Field{
			Name:       fc.Name,
			References: fc.References,
			WriteOnly:  fc.WriteOnly,
			Hooks:      make(map[Phase]Handler),
		}
		for phase, raw := range map[Phase]json.RawMessage{OnRead: fc.OnRead, OnInsert: fc.OnInsert, OnUpdate: fc.OnUpdate} {
			if len(raw) == 0 {
				continue
			}
			handler, err := ParseHandler(raw, extensions.Transforms)
			if err != nil {
				return nil, &core.ConfigurationError{Resource: rc.Type, Reason: phase.String() + " of " + fc.Name + ": " + err.Error()}
			}
			f.Hooks[phase] = handler
		}
		rt.Fields = append(rt.Fields, f)
		rt.fields[f.Name] = f
	}

	for name, qc := range rc.Query {
		if reservedParameters[name] {
			return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "reserved query parameter '" + name + "'"}
		}
		if !identifier.MatchString(qc.Column) {
			return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "invalid column for query '" + name + "'"}
		}
		if qc.References != "" {
			rt.Query[name] = ReferenceFilter{Column: qc.Column, References: qc.References}
		} else {
			rt.Query[name] = EqualsFilter{Column: qc.Column}
		}
	}
	for name, filter := range extensions.QueryFilters[rc.Type] {
		if reservedParameters[name] {
			return nil, &core.ConfigurationError{Resource: rc.Type, Reason: "reserved query parameter '" + name + "'"}
		}
		rt.Query[name] = filter
	}
	return rt, nil
}
