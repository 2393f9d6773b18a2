// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/lib/pq"
)

// ValidationIssue is a single schema violation of a document
type ValidationIssue struct {
	Code string `json:"code"`
	Path string `json:"path,omitempty"`
}

// ValidationError is returned when a document does not satisfy the schema of its type
type ValidationError struct {
	Issues   []ValidationIssue
	Document interface{}
}

func (e *ValidationError) Error() string {
	codes := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Path != "" {
			codes = append(codes, issue.Path+": "+issue.Code)
		} else {
			codes = append(codes, issue.Code)
		}
	}
	return "document is not valid: " + strings.Join(codes, ", ")
}

// MissingReferenceError is returned when a reference field lacks its href
type MissingReferenceError struct {
	Field string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("reference field '%s' has no href", e.Field)
}

// ReferenceMismatchError is returned when a reference points to a different type than declared
type ReferenceMismatchError struct {
	Field    string
	Href     string
	Expected string
}

func (e *ReferenceMismatchError) Error() string {
	return fmt.Sprintf("reference field '%s' must point to %s, got '%s'", e.Field, e.Expected, e.Href)
}

// NotFoundError is returned when a resource does not exist, or when a security
// predicate wants to hide its existence
type NotFoundError struct {
	Href string
}

func (e *NotFoundError) Error() string {
	if e.Href == "" {
		return "not found"
	}
	return "no such resource " + e.Href
}

// IntegrityError is returned when a key selects more than one row
type IntegrityError struct {
	Href  string
	Count int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: %s selects %d rows", e.Href, e.Count)
}

// ForbiddenError is returned when access is refused. Unauthenticated is true
// if the request carried no valid credentials at all.
type ForbiddenError struct {
	Unauthenticated bool
	Reason          string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return "forbidden: " + e.Reason
	}
	if e.Unauthenticated {
		return "authentication required"
	}
	return "forbidden"
}

// QueryError wraps a failure reported by the database driver
type QueryError struct {
	Statement string
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("statement %s failed: %v", e.Statement, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Conflict returns true if the driver reported an integrity constraint violation
func (e *QueryError) Conflict() bool {
	var pqErr *pq.Error
	if errors.As(e.Err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	return false
}

// BatchVerbError is returned for a batch operation with an unsupported verb
type BatchVerbError struct {
	Verb string
	Href string
}

func (e *BatchVerbError) Error() string {
	return fmt.Sprintf("batch operation on %s: verb '%s' is not supported", e.Href, e.Verb)
}

// ConfigurationError is returned for an invalid resource configuration
type ConfigurationError struct {
	Resource string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Resource == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration for %s: %s", e.Resource, e.Reason)
}

// PanicError is a recovered panic of application code, for example a hook or a
// security predicate
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Protect calls fn and turns a panic into a *PanicError
func Protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// IsFatal returns true if err signals a failed database interaction or a panic
// in the middle of one. Connections which saw a fatal error must not be reused.
// A violated constraint leaves the session intact and is not fatal.
func IsFatal(err error) bool {
	var queryErr *QueryError
	if errors.As(err, &queryErr) {
		return !queryErr.Conflict()
	}
	var panicErr *PanicError
	return errors.As(err, &panicErr)
}

// StatusCode maps an error to its HTTP status code
func StatusCode(err error) int {
	var (
		validationErr *ValidationError
		missingErr    *MissingReferenceError
		mismatchErr   *ReferenceMismatchError
		notFoundErr   *NotFoundError
		forbiddenErr  *ForbiddenError
		queryErr      *QueryError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr), errors.As(err, &missingErr), errors.As(err, &mismatchErr):
		return http.StatusConflict
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.As(err, &forbiddenErr):
		if forbiddenErr.Unauthenticated {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.As(err, &queryErr):
		if queryErr.Conflict() {
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody returns the JSON error document for err
func ErrorBody(err error) map[string]interface{} {
	status := StatusCode(err)
	body := map[string]interface{}{
		"status": status,
	}

	var (
		validationErr *ValidationError
		missingErr    *MissingReferenceError
		mismatchErr   *ReferenceMismatchError
		notFoundErr   *NotFoundError
		integrityErr  *IntegrityError
		forbiddenErr  *ForbiddenError
		queryErr      *QueryError
		batchErr      *BatchVerbError
	)
	switch {
	case errors.As(err, &validationErr):
		body["type"] = "validation"
		body["errors"] = validationErr.Issues
		body["document"] = validationErr.Document
		return body
	case errors.As(err, &missingErr):
		body["type"] = "reference.missing"
	case errors.As(err, &mismatchErr):
		body["type"] = "reference.mismatch"
	case errors.As(err, &notFoundErr):
		body["type"] = "not.found"
		body["message"] = "Not Found"
		return body
	case errors.As(err, &integrityErr):
		body["type"] = "integrity"
	case errors.As(err, &forbiddenErr):
		if forbiddenErr.Unauthenticated {
			body["type"] = "authentication.required"
			body["message"] = "Unauthorized"
		} else {
			body["type"] = "access.denied"
			body["message"] = "Forbidden"
		}
		return body
	case errors.As(err, &queryErr):
		if queryErr.Conflict() {
			body["type"] = "conflict"
		} else {
			body["type"] = "query"
			body["message"] = "Internal Server Error"
			return body
		}
	case errors.As(err, &batchErr):
		body["type"] = "batch.verb"
	default:
		body["type"] = "internal"
		body["message"] = "Internal Server Error"
		return body
	}
	body["message"] = err.Error()
	return body
}
