// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/cache"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/mapping"
	"github.com/relabs-tech/roa/core/statement"
)

// reservedParameters are the query parameters of list requests which are not filters
var reservedParameters = map[string]bool{
	"orderby":    true,
	"descending": true,
	"limit":      true,
	"offset":     true,
	"expand":     true,
}

func (b *Backend) createResourceRoutes(rt *mapping.ResourceType, customRoutes []CustomRoute) {
	nillog := logger.FromContext(nil)
	itemRoute := rt.Type + "/{key}"

	nillog.Debugln("  handle route:", rt.Type+"/schema", "GET")
	b.router.Handle(rt.Type+"/schema", b.schemaHandler(rt)).Methods(http.MethodOptions, http.MethodGet)

	for _, cr := range customRoutes {
		if cr.Type != rt.Type {
			continue
		}
		nillog.Debugln("  handle custom route:", cr.Route, cr.Method)
		var h http.Handler = b.customHandler(rt, cr)
		for i := len(cr.Middleware) - 1; i >= 0; i-- {
			h = cr.Middleware[i](h)
		}
		b.router.Handle(cr.Route, h).Methods(http.MethodOptions, cr.Method)
	}

	nillog.Debugln("  handle route:", rt.Type, "GET")
	b.router.Handle(rt.Type, b.pipeline(rt, core.OperationList,
		authenticate, lookupCache, authorizeRequest, connect, b.list)).Methods(http.MethodOptions, http.MethodGet)

	nillog.Debugln("  handle route:", itemRoute, "GET")
	b.router.Handle(itemRoute, b.pipeline(rt, core.OperationRead,
		authenticate, permalink, lookupCache, authorizeRequest, connect, b.read)).Methods(http.MethodOptions, http.MethodGet)

	nillog.Debugln("  handle route:", itemRoute, "PUT")
	b.router.Handle(itemRoute, b.pipeline(rt, core.OperationUpdate,
		authenticate, permalink, authorizeRequest, b.put)).Methods(http.MethodOptions, http.MethodPut)

	nillog.Debugln("  handle route:", itemRoute, "DELETE")
	b.router.Handle(itemRoute, b.pipeline(rt, core.OperationDelete,
		authenticate, permalink, authorizeRequest, connect, b.delete)).Methods(http.MethodOptions, http.MethodDelete)
}

// permalink sets the permalink of the addressed resource
func permalink(ex *exchange) error {
	ex.permalinks = []string{ex.rt.Href(mux.Vars(ex.r)["key"])}
	return nil
}

func (b *Backend) schemaHandler(rt *mapping.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rt.Schema == nil {
			writeJSON(w, http.StatusNotFound, core.ErrorBody(&core.NotFoundError{Href: rt.Type + "/schema"}))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(rt.Schema)
	}
}

func (b *Backend) customHandler(rt *mapping.ResourceType, cr CustomRoute) http.HandlerFunc {
	op := core.OperationUpdate
	stages := []stage{authenticate, func(ex *exchange) error {
		if key, ok := mux.Vars(ex.r)["key"]; ok {
			ex.permalinks = []string{rt.Href(key)}
		}
		return nil
	}}
	if cr.Method == http.MethodGet {
		op = core.OperationRead
		stages = append(stages, lookupCache)
	}
	stages = append(stages, authorizeRequest, connect, identify, func(ex *exchange) error {
		if ex.recorder == nil {
			ex.recorder = cache.NewRecorder(ex.w)
			ex.w = ex.recorder
		}
		err := cr.Handler(ex.ctx, ex.w, ex.r, ex.conn, ex.me)
		// an error is only reported if the handler did not respond yet
		ex.done = err == nil || ex.recorder.Written()
		if err == nil && op.IsMutation() {
			b.invalidate(ex, rt, ex.r.URL.Path)
		}
		return err
	})
	return b.pipeline(rt, op, stages...)
}

func columnList(rt *mapping.ResourceType) string {
	return strings.Join(rt.Columns(), ",")
}

// toResource maps a row to a resource document with its permalink in meta
func (b *Backend) toResource(rt *mapping.ResourceType, row csql.Row) (*mapping.Element, error) {
	resource, err := rt.ToResource(row)
	if err != nil {
		return nil, err
	}
	resource.Set("meta", map[string]interface{}{"permalink": rt.Href(fmt.Sprint(row[rt.Key]))})
	return resource, nil
}

func (b *Backend) list(ex *exchange) error {
	rt := ex.rt
	rlog := logger.FromContext(ex.ctx)
	table := b.db.Table(rt.Table)
	params := ex.r.URL.Query()

	count := statement.New("count-" + rt.Table).SQL("select count(*) from " + table + " where 1=1")
	query := statement.New("list-" + rt.Table).SQL("select " + columnList(rt) + " from " + table + " where 1=1")

	names := make([]string, 0, len(params))
	for name := range params {
		if !reservedParameters[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		filter, ok := rt.Query[name]
		if !ok {
			rlog.Infof("ignoring unknown query parameter %s on %s", name, rt.Type)
			continue
		}
		for _, value := range params[name] {
			if err := filter.Apply(ex.ctx, value, count); err != nil {
				var mismatchErr *core.ReferenceMismatchError
				if errors.As(err, &mismatchErr) {
					rlog.Infof("ignoring query parameter %s on %s: %v", name, rt.Type, err)
					continue
				}
				return err
			}
			if err := filter.Apply(ex.ctx, value, query); err != nil {
				return err
			}
		}
	}

	res, err := ex.conn.Execute(ex.ctx, count)
	if err != nil {
		return err
	}
	n, err := res.Count()
	if err != nil {
		return err
	}

	if orderby := params.Get("orderby"); orderby != "" {
		columns := strings.Split(orderby, ",")
		valid := true
		for _, column := range columns {
			if _, ok := rt.Field(column); !ok && column != rt.Key {
				valid = false
			}
		}
		if valid {
			query.SQL(" order by " + strings.Join(columns, ","))
			if descending := params.Get("descending"); descending != "" {
				if d, err := strconv.ParseBool(descending); err != nil || d {
					query.SQL(" desc")
				}
			}
		} else {
			rlog.Infof("ignoring invalid orderby %s on %s", orderby, rt.Type)
		}
	}
	if limit := params.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l >= 0 {
			query.SQL(" limit ").Param(l)
		} else {
			rlog.Infof("ignoring invalid limit %s on %s", limit, rt.Type)
		}
	}
	if offset := params.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			query.SQL(" offset ").Param(o)
		} else {
			rlog.Infof("ignoring invalid offset %s on %s", offset, rt.Type)
		}
	}

	res, err = ex.conn.Execute(ex.ctx, query)
	if err != nil {
		return err
	}

	// expand=full only returns hrefs
	expand := params.Get("expand") != "full"
	results := make([]interface{}, 0, len(res.Rows))
	for _, row := range res.Rows {
		href := rt.Href(fmt.Sprint(row[rt.Key]))
		item := mapping.NewElement()
		item.Set("href", href)
		if expand {
			resource, err := b.toResource(rt, row)
			if err != nil {
				return err
			}
			item.Set("expanded", resource)
		}
		results = append(results, item)
	}

	body := mapping.NewElement()
	body.Set("meta", map[string]interface{}{"count": n})
	body.Set("results", results)
	ex.body = body
	return nil
}

func (b *Backend) read(ex *exchange) error {
	rt := ex.rt
	key := mux.Vars(ex.r)["key"]
	href := rt.Href(key)

	st := statement.New("read-"+rt.Table).
		SQL("select " + columnList(rt) + " from " + b.db.Table(rt.Table) + " where " + rt.Key + " = ").Param(key)
	res, err := ex.conn.Execute(ex.ctx, st)
	if err != nil {
		return err
	}
	switch len(res.Rows) {
	case 0:
		return &core.NotFoundError{Href: href}
	case 1:
	default:
		return &core.IntegrityError{Href: href, Count: int64(len(res.Rows))}
	}
	resource, err := b.toResource(rt, res.Rows[0])
	if err != nil {
		return err
	}
	ex.body = resource
	return nil
}

// decodeBody reads a JSON object from the request body
func decodeBody(r io.Reader) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := json.NewDecoder(r).Decode(&body); err != nil || body == nil {
		return nil, &core.ValidationError{Issues: []core.ValidationIssue{{Code: "invalid.json", Path: ""}}}
	}
	return body, nil
}

// prepareRow validates a document and maps it to a row. This happens before
// any transaction is opened.
func (b *Backend) prepareRow(rt *mapping.ResourceType, body map[string]interface{}) (*mapping.Element, error) {
	if err := b.validator.Validate(rt.Type, body); err != nil {
		return nil, err
	}
	return rt.ToRow(body)
}

func (b *Backend) put(ex *exchange) error {
	rt := ex.rt
	key := mux.Vars(ex.r)["key"]

	body, err := decodeBody(ex.r.Body)
	if err != nil {
		return err
	}
	row, err := b.prepareRow(rt, body)
	if err != nil {
		return err
	}
	if err := connect(ex); err != nil {
		return err
	}
	err = ex.conn.Transact(ex.ctx, func(tx *csql.Tx) error {
		return b.applyPut(ex.ctx, tx, rt, key, row)
	})
	if err != nil {
		return err
	}
	b.invalidate(ex, rt, ex.r.URL.Path)
	ex.body = true
	return nil
}

func (b *Backend) delete(ex *exchange) error {
	rt := ex.rt
	key := mux.Vars(ex.r)["key"]
	err := ex.conn.Transact(ex.ctx, func(tx *csql.Tx) error {
		return b.applyDelete(ex.ctx, tx, rt, key)
	})
	if err != nil {
		return err
	}
	b.invalidate(ex, rt, ex.r.URL.Path)
	ex.body = true
	return nil
}

// invalidate purges the cached resource and all cached lists of a type
func (b *Backend) invalidate(ex *exchange, rt *mapping.ResourceType, key string) {
	if c := b.caches[rt.Type]; c != nil {
		c.Invalidate(ex.ctx, key)
	}
}
