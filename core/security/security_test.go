package security

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/roa/core"
)

type preparation struct {
	prepared int
	released []bool
}

func (p *preparation) prepare(ctx context.Context) (*Request, func(bool), error) {
	p.prepared++
	return &Request{Type: "/persons", Operation: core.OperationRead}, func(failed bool) {
		p.released = append(p.released, failed)
	}, nil
}

func allow(ctx context.Context, r *Request) error { return nil }
func deny(ctx context.Context, r *Request) error  { return Deny("not yours") }

func TestEmptyChainAllowsWithoutPreparation(t *testing.T) {
	p := &preparation{}
	err := Evaluate(context.Background(), "/persons", nil, p.prepare)
	assert.NoError(t, err)
	assert.Equal(t, 0, p.prepared)
	assert.Empty(t, p.released)
}

func TestAllAllow(t *testing.T) {
	p := &preparation{}
	err := Evaluate(context.Background(), "/persons", []Predicate{allow, allow}, p.prepare)
	assert.NoError(t, err)
	assert.Equal(t, 1, p.prepared)
	assert.Equal(t, []bool{false}, p.released)
}

func TestOneDenies(t *testing.T) {
	p := &preparation{}
	err := Evaluate(context.Background(), "/persons", []Predicate{allow, deny}, p.prepare)
	var forbidden *core.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.False(t, forbidden.Unauthenticated)
	assert.Equal(t, []bool{false}, p.released)
}

func TestArbitraryErrorIsRejection(t *testing.T) {
	p := &preparation{}
	err := Evaluate(context.Background(), "/persons", []Predicate{
		func(ctx context.Context, r *Request) error { return errors.New("nope") },
	}, p.prepare)
	assert.Equal(t, 403, core.StatusCode(err))
}

func TestHideExistence(t *testing.T) {
	p := &preparation{}
	err := Evaluate(context.Background(), "/persons", []Predicate{
		allow,
		func(ctx context.Context, r *Request) error { return HideExistence() },
	}, p.prepare)
	assert.Equal(t, 404, core.StatusCode(err))
}

func TestQueryFailureIsFatal(t *testing.T) {
	p := &preparation{}
	err := Evaluate(context.Background(), "/persons", []Predicate{
		deny,
		func(ctx context.Context, r *Request) error {
			return &core.QueryError{Statement: "check", Err: errors.New("connection reset")}
		},
	}, p.prepare)
	assert.True(t, core.IsFatal(err))
	assert.Equal(t, 500, core.StatusCode(err))
	assert.Equal(t, []bool{true}, p.released)
}

func TestPanicIsFatal(t *testing.T) {
	p := &preparation{}
	err := Evaluate(context.Background(), "/persons", []Predicate{
		allow,
		func(ctx context.Context, r *Request) error { panic("predicate exploded") },
	}, p.prepare)
	var panicErr *core.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.True(t, core.IsFatal(err))
	assert.Equal(t, 500, core.StatusCode(err))
	assert.Equal(t, []bool{true}, p.released)
}

func TestAllPredicatesCompleteBeforeRelease(t *testing.T) {
	p := &preparation{}
	var finished atomic.Int32
	slow := func(ctx context.Context, r *Request) error {
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
		return nil
	}
	var finishedAtRelease int32
	prepare := func(ctx context.Context) (*Request, func(bool), error) {
		r, _, _ := p.prepare(ctx)
		return r, func(bool) { finishedAtRelease = finished.Load() }, nil
	}

	err := Evaluate(context.Background(), "/persons", []Predicate{deny, slow, slow}, prepare)
	assert.Error(t, err)
	assert.Equal(t, int32(2), finishedAtRelease)
}

func TestPreparationFailure(t *testing.T) {
	broken := errors.New("no connection")
	err := Evaluate(context.Background(), "/persons", []Predicate{allow},
		func(ctx context.Context) (*Request, func(bool), error) { return nil, nil, broken })
	assert.ErrorIs(t, err, broken)
}
