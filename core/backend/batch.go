// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/mapping"
	"github.com/relabs-tech/roa/core/metrics"
)

// BatchOperation is one operation of a batch request
type BatchOperation struct {
	Href string                 `json:"href"`
	Verb string                 `json:"verb"`
	Body map[string]interface{} `json:"body"`
}

// batchItem is a validated batch operation, ready to be applied
type batchItem struct {
	rt   *mapping.ResourceType
	key  string
	href string
	row  *mapping.Element
}

func (b *Backend) handleBatchRoute() {
	logger.FromContext(nil).Debugln("  handle route: /batch PUT")
	b.router.Handle("/batch", b.pipeline(nil, core.OperationBatch, authenticate, b.batch)).Methods(http.MethodOptions, http.MethodPut)
}

// batch applies all operations in one transaction. Every operation is validated
// and authorized before the transaction begins.
func (b *Backend) batch(ex *exchange) error {
	var operations []BatchOperation
	if err := json.NewDecoder(ex.r.Body).Decode(&operations); err != nil {
		return &core.ValidationError{Issues: []core.ValidationIssue{{Code: "invalid.json"}}}
	}

	items := make([]*batchItem, 0, len(operations))
	for _, operation := range operations {
		if verb := strings.ToUpper(operation.Verb); verb != "" && verb != http.MethodPut {
			metrics.BatchOperationsTotal.WithLabelValues("rejected").Inc()
			return &core.BatchVerbError{Verb: operation.Verb, Href: operation.Href}
		}
		rt, key, ok := b.registry.Resolve(operation.Href)
		if !ok {
			return &core.NotFoundError{Href: operation.Href}
		}
		body := operation.Body
		if body == nil {
			body = map[string]interface{}{}
		}
		row, err := b.prepareRow(rt, body)
		if err != nil {
			return fmt.Errorf("batch operation %s: %w", operation.Href, err)
		}
		if err := ex.authorize(rt, core.OperationBatch, []string{operation.Href}); err != nil {
			return err
		}
		items = append(items, &batchItem{rt: rt, key: key, href: operation.Href, row: row})
	}

	queue := items
	if b.registry.BatchOrder != mapping.BatchInput {
		queue = make([]*batchItem, len(items))
		for i, item := range items {
			queue[len(items)-1-i] = item
		}
	}

	if err := connect(ex); err != nil {
		return err
	}
	err := ex.conn.Transact(ex.ctx, func(tx *csql.Tx) error {
		for _, item := range queue {
			if err := b.applyPut(ex.ctx, tx, item.rt, item.key, item.row); err != nil {
				return fmt.Errorf("batch operation %s: %w", item.href, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.BatchOperationsTotal.WithLabelValues("rolledback").Add(float64(len(queue)))
		return err
	}
	metrics.BatchOperationsTotal.WithLabelValues("committed").Add(float64(len(queue)))

	for _, item := range queue {
		b.invalidate(ex, item.rt, item.href)
	}
	ex.body = true
	return nil
}
