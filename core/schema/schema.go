// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/roa/core"
)

// Validator validates documents against the JSON schemas of resource types
type Validator struct {
	refs             []string
	schemaValidators map[string]*gojsonschema.Schema
}

// NewValidator creates a new Validator. refs are schemas which may be referenced
// by the schemas of resource types; every ref must carry an $id.
func NewValidator(refs ...string) *Validator {
	return &Validator{
		refs:             refs,
		schemaValidators: make(map[string]*gojsonschema.Schema),
	}
}

// Register compiles the schema of a resource type
func (v *Validator) Register(typePath string, schema []byte) error {
	sl := gojsonschema.NewSchemaLoader()
	for _, ref := range v.refs {
		if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
			return fmt.Errorf("cannot add ref %s: %w", ref, err)
		}
	}
	compiled, err := sl.Compile(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("cannot compile schema of %s: %w", typePath, err)
	}
	v.schemaValidators[typePath] = compiled
	return nil
}

// HasSchema returns true if a schema is registered for typePath
func (v *Validator) HasSchema(typePath string) bool {
	_, ok := v.schemaValidators[typePath]
	return ok
}

// Validate validates document against the schema of typePath. Types without
// schema accept everything. Violations are returned as *core.ValidationError.
func (v *Validator) Validate(typePath string, document interface{}) error {
	schema, ok := v.schemaValidators[typePath]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("cannot validate with schema of %s: %w", typePath, err)
	}
	if result.Valid() {
		return nil
	}

	verr := &core.ValidationError{Document: document}
	for _, e := range result.Errors() {
		issue := core.ValidationIssue{Code: Code(e.Description())}
		if field := e.Field(); field != gojsonschema.STRING_CONTEXT_ROOT {
			issue.Path = field
		}
		verr.Issues = append(verr.Issues, issue)
	}
	return verr
}

var nonCode = regexp.MustCompile(`[^a-z0-9 ]`)

// Code turns a human readable message into a dotted error code, for
// example "Invalid type. Expected: string" becomes "invalid.type.expected.string"
func Code(message string) string {
	code := strings.TrimSpace(strings.ToLower(message))
	code = nonCode.ReplaceAllString(code, "")
	return strings.ReplaceAll(code, " ", ".")
}
