// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/access"
	"github.com/relabs-tech/roa/core/cache"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/mapping"
	"github.com/relabs-tech/roa/core/metrics"
	"github.com/relabs-tech/roa/core/security"
)

// exchange carries the state of one request through the stages of a pipeline
type exchange struct {
	b         *Backend
	ctx       context.Context
	w         http.ResponseWriter
	r         *http.Request
	rt        *mapping.ResourceType
	op        core.Operation
	principal string
	me        *access.Identity
	conn      *csql.Conn

	// permalinks are the hrefs the request reveals or modifies
	permalinks []string

	status int
	body   interface{}
	// done is set by stages which wrote the response themselves
	done bool
	// recorder is set if a successful response is stored in the cache
	recorder *cache.Recorder
	// cacheHit is set if the response was replayed from the cache
	cacheHit bool
}

// stage is one step of a request pipeline. A stage either sets the response,
// or returns an error which ends the pipeline.
type stage func(ex *exchange) error

// pipeline returns a handler which runs stages in order. A panicking stage
// fails the request with a fatal error. Afterwards the connection is released,
// discarding it after a fatal error, and the response or the error is written.
func (b *Backend) pipeline(rt *mapping.ResourceType, op core.Operation, stages ...stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ex := &exchange{
			b:      b,
			ctx:    r.Context(),
			w:      w,
			r:      r,
			rt:     rt,
			op:     op,
			status: http.StatusOK,
		}

		err := core.Protect(func() error {
			for _, s := range stages {
				if err := s(ex); err != nil || ex.done {
					return err
				}
			}
			return nil
		})
		ex.close(err)
		status := ex.respond(err)

		typePath := "/"
		if rt != nil {
			typePath = rt.Type
		}
		metrics.RecordRequest(typePath, r.Method, status, time.Since(start))
	}
}

func (ex *exchange) close(err error) {
	if ex.conn != nil {
		ex.conn.Release(core.IsFatal(err))
		ex.conn = nil
	}
}

func (ex *exchange) respond(err error) int {
	rlog := logger.FromContext(ex.ctx)
	if err != nil {
		status := statusCode(ex, err)
		var panicErr *core.PanicError
		if errors.As(err, &panicErr) {
			rlog.WithError(err).Errorf("Error 4733: %s %s panicked\n%s", ex.r.Method, ex.r.URL, panicErr.Stack)
		} else if status >= http.StatusInternalServerError {
			rlog.WithError(err).Errorf("Error 4731: %s %s", ex.r.Method, ex.r.URL)
		} else {
			rlog.Infof("%s %s failed with %d: %v", ex.r.Method, ex.r.URL, status, err)
		}
		if ex.done {
			// the response is already on its way
			return status
		}
		if status == http.StatusUnauthorized && ex.b.auth != nil {
			ex.b.auth.Challenge(ex.w)
		}
		body := core.ErrorBody(err)
		body["status"] = status
		writeJSON(ex.w, status, body)
		return status
	}

	if !ex.done {
		writeJSON(ex.w, ex.status, ex.body)
	}
	status := ex.status
	if ex.recorder != nil {
		status = ex.recorder.Status()
		c := ex.b.caches[ex.rt.Type]
		if c != nil && !ex.cacheHit && ex.r.Method == http.MethodGet {
			ex.recorder.SetPermalinks(ex.permalinks)
			c.Store(ex.ctx, ex.r.URL.RequestURI(), ex.recorder)
		}
	}
	return status
}

// statusCode maps err to the status of the route. Batches fail with 500, and a
// PUT which fails for other reasons than infrastructure or integrity is a conflict.
func statusCode(ex *exchange, err error) int {
	status := core.StatusCode(err)
	if status == http.StatusUnauthorized {
		return status
	}
	switch {
	case ex.op == core.OperationBatch:
		return http.StatusInternalServerError
	case ex.r.Method == http.MethodPut && status == http.StatusInternalServerError:
		var integrityErr *core.IntegrityError
		if !core.IsFatal(err) && !errors.As(err, &integrityErr) {
			return http.StatusConflict
		}
	}
	return status
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 4732: cannot marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// authenticate checks the basic credentials
func authenticate(ex *exchange) error {
	// without an authenticator all types are public
	if ex.b.auth == nil || (ex.rt != nil && ex.rt.Public) {
		return nil
	}
	principal, err := ex.b.auth.Authenticate(ex.r)
	if err != nil {
		return err
	}
	ex.principal = principal
	ctx := access.ContextWithPrincipal(ex.ctx, principal)
	ctx, _ = logger.ContextWithLoggerIdentity(ctx, principal)
	ex.ctx = ctx
	return nil
}

// lookupCache replays a cached response after the security chain allowed
// the resources it reveals. On a miss the response gets recorded.
func lookupCache(ex *exchange) error {
	c := ex.b.caches[ex.rt.Type]
	if c == nil {
		return nil
	}
	ex.recorder = cache.NewRecorder(ex.w)
	ex.w = ex.recorder

	response := c.Lookup(ex.ctx, ex.r.URL.RequestURI())
	if response == nil {
		return nil
	}
	if err := ex.authorize(ex.rt, ex.op, response.Permalinks); err != nil {
		return err
	}
	ex.cacheHit = true
	ex.done = true
	cache.Replay(ex.w, response)
	return nil
}

// connect acquires the connection of the request
func connect(ex *exchange) error {
	if ex.conn != nil {
		return nil
	}
	conn, err := ex.b.db.Acquire(ex.ctx)
	if err != nil {
		return err
	}
	ex.conn = conn
	return nil
}

// identify resolves the identity of the authenticated principal
func identify(ex *exchange) error {
	if ex.me != nil || ex.principal == "" {
		return nil
	}
	me, err := ex.b.auth.Me(ex.ctx, ex.principal)
	if err != nil {
		return err
	}
	ex.me = me
	return nil
}

// authorize runs the security chain of rt. The connection and the identity are
// only acquired if the type has predicates. Public types are not secured.
func (ex *exchange) authorize(rt *mapping.ResourceType, op core.Operation, permalinks []string) error {
	if rt.Public {
		return nil
	}
	prepare := func(ctx context.Context) (*security.Request, func(bool), error) {
		if err := identify(ex); err != nil {
			return nil, nil, err
		}
		if err := connect(ex); err != nil {
			return nil, nil, err
		}
		request := &security.Request{
			HTTP:       ex.r,
			Type:       rt.Type,
			Operation:  op,
			Querier:    ex.conn,
			Me:         ex.me,
			Permalinks: permalinks,
		}
		// the connection is released when the pipeline closes
		return request, func(bool) {}, nil
	}
	return security.Evaluate(ex.ctx, rt.Type, rt.Security, prepare)
}

// authorizeRequest is the security stage for the permalinks set by earlier stages
func authorizeRequest(ex *exchange) error {
	return ex.authorize(ex.rt, ex.op, ex.permalinks)
}
