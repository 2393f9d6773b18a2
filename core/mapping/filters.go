// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package mapping

import (
	"context"
	"strings"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/statement"
)

// QueryFilter narrows a list query for the value of a URL query parameter. It
// appends conditions starting with " and " to s.
type QueryFilter interface {
	Apply(ctx context.Context, value string, s *statement.Statement) error
}

// QueryFilterFunc is an adapter to use an ordinary function as QueryFilter
type QueryFilterFunc func(ctx context.Context, value string, s *statement.Statement) error

// Apply calls f
func (f QueryFilterFunc) Apply(ctx context.Context, value string, s *statement.Statement) error {
	return f(ctx, value, s)
}

// EqualsFilter selects rows whose column equals one of the comma separated values
type EqualsFilter struct {
	Column string
}

// Apply implements QueryFilter
func (f EqualsFilter) Apply(ctx context.Context, value string, s *statement.Statement) error {
	appendIn(s, f.Column, strings.Split(value, ","))
	return nil
}

// ReferenceFilter selects rows whose reference column points to one of the comma
// separated hrefs. Every href must point to the referenced type.
type ReferenceFilter struct {
	Column     string
	References string
}

// Apply implements QueryFilter
func (f ReferenceFilter) Apply(ctx context.Context, value string, s *statement.Statement) error {
	var keys []string
	for _, href := range strings.Split(value, ",") {
		typePath, key, ok := core.SplitHref(href)
		if !ok || typePath != f.References {
			return &core.ReferenceMismatchError{Field: f.Column, Href: href, Expected: f.References}
		}
		keys = append(keys, key)
	}
	appendIn(s, f.Column, keys)
	return nil
}

func appendIn(s *statement.Statement, column string, values []string) {
	if len(values) == 1 {
		s.SQL(" and " + column + " = ").Param(values[0])
		return
	}
	params := make([]interface{}, len(values))
	for i, v := range values {
		params[i] = v
	}
	s.SQL(" and " + column + " in (").Array(params).SQL(")")
}
