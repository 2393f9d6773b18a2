// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package mapping maps database rows of a table to resource documents of a REST
type and back.

Every resource type lists its fields in order. A field is copied verbatim,
except for references, which are stored as the key of the referenced resource
and exposed as {"href": "/type/key"}, and write-only fields, which are never
exposed. Field hooks adjust values in the read, insert and update phases.
*/
package mapping

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/cache"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/security"
)

// Field is a mapped field of a resource type
type Field struct {
	Name string
	// References is the type path of the referenced type, if the field is a reference
	References string
	// WriteOnly fields are accepted on write but never exposed
	WriteOnly bool
	Hooks     map[Phase]Handler
}

// MutationEvent describes a successful write, as seen by after-mutation hooks
type MutationEvent struct {
	Type      *ResourceType
	Key       string
	Operation core.Operation
	// Element is the written row. It is nil for deletes.
	Element *Element
}

// AfterHook runs inside the transaction of a write, after the write succeeded.
// A failing hook aborts the transaction.
type AfterHook func(ctx context.Context, q csql.Querier, event *MutationEvent) error

// ResourceType is the mapping of one REST type to one table
type ResourceType struct {
	// Type is the type path, for example "/persons"
	Type  string
	Table string
	// Key is the column holding the resource key
	Key         string
	Public      bool
	Description string
	Fields      []*Field
	Schema      []byte
	Cache       *cache.Policy
	Security    []security.Predicate
	AfterInsert []AfterHook
	AfterUpdate []AfterHook
	AfterDelete []AfterHook
	Query       map[string]QueryFilter

	fields map[string]*Field
}

// Field returns the field called name
func (rt *ResourceType) Field(name string) (*Field, bool) {
	f, ok := rt.fields[name]
	return f, ok
}

// NewKey returns a new random resource key
func NewKey() string {
	return uuid.New().String()
}

// Href returns the href of the resource with key
func (rt *ResourceType) Href(key string) string {
	return core.Href(rt.Type, key)
}

// Columns returns the key column followed by the columns of all fields
func (rt *ResourceType) Columns() []string {
	columns := []string{rt.Key}
	for _, f := range rt.Fields {
		columns = append(columns, f.Name)
	}
	return columns
}

// AfterHooks returns the after-mutation hooks for an operation
func (rt *ResourceType) AfterHooks(operation core.Operation) []AfterHook {
	switch operation {
	case core.OperationInsert:
		return rt.AfterInsert
	case core.OperationUpdate:
		return rt.AfterUpdate
	case core.OperationDelete:
		return rt.AfterDelete
	}
	return nil
}

// ToResource maps a database row to a resource document. References are
// always exposed as href, even if they are write-only.
func (rt *ResourceType) ToResource(row csql.Row) (*Element, error) {
	e := NewElement()
	for _, f := range rt.Fields {
		value, ok := row[f.Name]
		if !ok {
			continue
		}
		if f.References != "" {
			if value != nil {
				value = map[string]interface{}{"href": core.Href(f.References, fmt.Sprint(value))}
			}
		} else if f.WriteOnly {
			continue
		}
		e.Set(f.Name, value)
	}
	if err := rt.ApplyHooks(OnRead, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ToRow maps the fields present in a resource document to a database row. A
// reference must be an object with an href that points to the referenced type;
// otherwise *core.MissingReferenceError or *core.ReferenceMismatchError is returned.
func (rt *ResourceType) ToRow(body map[string]interface{}) (*Element, error) {
	e := NewElement()
	for _, f := range rt.Fields {
		value, ok := body[f.Name]
		if !ok {
			continue
		}
		if f.References != "" && value != nil {
			key, err := referencedKey(f, value)
			if err != nil {
				return nil, err
			}
			value = key
		}
		e.Set(f.Name, value)
	}
	return e, nil
}

func referencedKey(f *Field, value interface{}) (string, error) {
	ref, ok := value.(map[string]interface{})
	if !ok {
		return "", &core.MissingReferenceError{Field: f.Name}
	}
	href, ok := ref["href"].(string)
	if !ok || href == "" {
		return "", &core.MissingReferenceError{Field: f.Name}
	}
	typePath, key, ok := core.SplitHref(href)
	if !ok || typePath != f.References {
		return "", &core.ReferenceMismatchError{Field: f.Name, Href: href, Expected: f.References}
	}
	return key, nil
}

// ApplyHooks runs the field hooks of a phase on e, in field order
func (rt *ResourceType) ApplyHooks(phase Phase, e *Element) error {
	for _, f := range rt.Fields {
		handler, ok := f.Hooks[phase]
		if !ok {
			continue
		}
		if err := handler.Apply(f.Name, e); err != nil {
			return fmt.Errorf("%s hook of %s.%s: %w", phase, rt.Type, f.Name, err)
		}
	}
	return nil
}

// BatchOrder is the order in which batch operations are applied
type BatchOrder string

// all batch orders
const (
	// BatchReverse applies the last listed operation first
	BatchReverse BatchOrder = "reverse"
	// BatchInput applies operations in the order they are listed
	BatchInput BatchOrder = "input"
)

// Registry holds all resource types. It is built once at startup and never
// changes afterwards.
type Registry struct {
	BatchOrder BatchOrder
	types      map[string]*ResourceType
	order      []*ResourceType
}

// Lookup returns the resource type of a type path
func (r *Registry) Lookup(typePath string) (*ResourceType, bool) {
	rt, ok := r.types[typePath]
	return rt, ok
}

// Resolve returns the resource type and key an href points to
func (r *Registry) Resolve(href string) (*ResourceType, string, bool) {
	typePath, key, ok := core.SplitHref(href)
	if !ok {
		return nil, "", false
	}
	rt, ok := r.types[typePath]
	return rt, key, ok
}

// Types returns all resource types in configuration order
func (r *Registry) Types() []*ResourceType {
	return r.order
}
