// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package security evaluates the security predicates of a resource type.

A request is allowed only if every predicate allows it. Predicates run
concurrently on the same connection and all of them complete before a decision
is made. A predicate allows by returning nil. It rejects by returning Deny(), or
any other non-fatal error, or hides the existence of a resource with
HideExistence(). A predicate whose query fails, or which panics, is fatal for
the whole request.
*/
package security

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/access"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/metrics"
)

// Request is what a predicate decides about
type Request struct {
	HTTP      *http.Request
	Type      string
	Operation core.Operation
	// Querier runs statements on the connection of the request
	Querier csql.Querier
	// Me is the identity of the authenticated principal
	Me *access.Identity
	// Permalinks are the hrefs of the resources the request reveals or modifies
	Permalinks []string
}

// Predicate is a security predicate
type Predicate func(ctx context.Context, r *Request) error

// Prepare supplies the request for predicate evaluation together with a
// release function, which is called once with true if evaluation failed fatally.
type Prepare func(ctx context.Context) (*Request, func(failed bool), error)

// Deny returns a rejection
func Deny(reason string) error {
	return &core.ForbiddenError{Reason: reason}
}

// HideExistence returns a rejection which is reported to the client as "not found"
func HideExistence() error {
	return &core.NotFoundError{}
}

// Evaluate runs all predicates of a type. An empty list allows immediately and
// prepare is not called. Otherwise the result is nil if all predicates allow, the
// fatal error if any predicate failed fatally, or else the rejection of the first
// rejecting predicate as *core.ForbiddenError or *core.NotFoundError.
func Evaluate(ctx context.Context, typePath string, predicates []Predicate, prepare Prepare) error {
	if len(predicates) == 0 {
		metrics.SecurityDecisionsTotal.WithLabelValues(typePath, "allow").Inc()
		return nil
	}

	request, release, err := prepare(ctx)
	if err != nil {
		return err
	}

	results := make([]error, len(predicates))
	var g errgroup.Group
	for i, predicate := range predicates {
		g.Go(func() error {
			results[i] = core.Protect(func() error { return predicate(ctx, request) })
			return nil
		})
	}
	g.Wait()

	var rejection error
	for _, result := range results {
		if result == nil {
			continue
		}
		if core.IsFatal(result) {
			release(true)
			metrics.SecurityDecisionsTotal.WithLabelValues(typePath, "error").Inc()
			return result
		}
		if rejection == nil {
			rejection = result
		}
	}
	release(false)

	if rejection == nil {
		metrics.SecurityDecisionsTotal.WithLabelValues(typePath, "allow").Inc()
		return nil
	}
	metrics.SecurityDecisionsTotal.WithLabelValues(typePath, "deny").Inc()
	logger.FromContext(ctx).Infof("security predicate of %s rejected request: %v", typePath, rejection)

	var notFound *core.NotFoundError
	if errors.As(rejection, &notFound) {
		return rejection
	}
	var forbidden *core.ForbiddenError
	if errors.As(rejection, &forbidden) {
		return rejection
	}
	return &core.ForbiddenError{Reason: rejection.Error()}
}
