// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/csql"
	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/mapping"
	"github.com/relabs-tech/roa/core/statement"
)

// applyPut inserts or updates the resource with key. It must run inside a
// transaction, the after hooks of the type run on the same transaction.
func (b *Backend) applyPut(ctx context.Context, q csql.Querier, rt *mapping.ResourceType, key string, row *mapping.Element) error {
	table := b.db.Table(rt.Table)
	href := rt.Href(key)

	res, err := q.Execute(ctx, statement.New("exists-"+rt.Table).
		SQL("select count(*) from "+table+" where "+rt.Key+" = ").Param(key))
	if err != nil {
		return err
	}
	n, err := res.Count()
	if err != nil {
		return err
	}

	var op core.Operation
	switch n {
	case 0:
		op = core.OperationInsert
		row.Set(rt.Key, key)
		if err := rt.ApplyHooks(mapping.OnInsert, row); err != nil {
			return err
		}
		st := statement.New("insert-" + rt.Table).
			SQL("insert into " + table + " (").Columns(row).SQL(") values (").Object(row).SQL(")")
		if _, err := q.Execute(ctx, st); err != nil {
			return err
		}
	case 1:
		op = core.OperationUpdate
		if err := rt.ApplyHooks(mapping.OnUpdate, row); err != nil {
			return err
		}
		if row.Len() > 0 {
			st := statement.New("update-" + rt.Table).
				SQL("update " + table + " set ").Assignments(row).SQL(" where " + rt.Key + " = ").Param(key)
			if _, err := q.Execute(ctx, st); err != nil {
				return err
			}
		} else {
			logger.FromContext(ctx).Debugln("nothing to update for", href)
		}
	default:
		return &core.IntegrityError{Href: href, Count: n}
	}

	return runAfterHooks(ctx, q, rt, &mapping.MutationEvent{
		Type:      rt,
		Key:       key,
		Operation: op,
		Element:   row,
	})
}

// applyDelete deletes the resource with key. The after delete hooks only run
// if a resource was actually deleted.
func (b *Backend) applyDelete(ctx context.Context, q csql.Querier, rt *mapping.ResourceType, key string) error {
	res, err := q.Execute(ctx, statement.New("delete-"+rt.Table).
		SQL("delete from "+b.db.Table(rt.Table)+" where "+rt.Key+" = ").Param(key))
	if err != nil {
		return err
	}
	if res.RowCount != 1 {
		logger.FromContext(ctx).Debugf("delete of %s removed %d rows", rt.Href(key), res.RowCount)
		return nil
	}
	return runAfterHooks(ctx, q, rt, &mapping.MutationEvent{
		Type:      rt,
		Key:       key,
		Operation: core.OperationDelete,
	})
}

// runAfterHooks runs the after hooks of an event in order. The first failure
// aborts.
func runAfterHooks(ctx context.Context, q csql.Querier, rt *mapping.ResourceType, event *mapping.MutationEvent) error {
	for i, hook := range rt.AfterHooks(event.Operation) {
		if err := hook(ctx, q, event); err != nil {
			return fmt.Errorf("after %s hook %d of %s failed: %w", event.Operation, i, rt.Href(event.Key), err)
		}
	}
	return nil
}
