// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package csql

import (
	"context"
	"database/sql"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/statement"
)

// Tx is a transaction on an acquired connection
type Tx struct {
	conn *Conn
	tx   *sql.Tx
	done bool
}

// BeginTx starts a transaction on the connection
func (c *Conn) BeginTx(ctx context.Context) (*Tx, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.released {
		return nil, &core.QueryError{Statement: "begin", Err: ErrReleased}
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, &core.QueryError{Statement: "begin", Err: err}
	}
	return &Tx{conn: c, tx: tx}, nil
}

// Execute runs the statement inside the transaction
func (t *Tx) Execute(ctx context.Context, s *statement.Statement) (*Result, error) {
	t.conn.mutex.Lock()
	defer t.conn.mutex.Unlock()
	return t.conn.db.execute(ctx, t.tx, s)
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	t.conn.mutex.Lock()
	defer t.conn.mutex.Unlock()
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return &core.QueryError{Statement: "commit", Err: err}
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction does nothing.
func (t *Tx) Rollback() error {
	t.conn.mutex.Lock()
	defer t.conn.mutex.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return &core.QueryError{Statement: "rollback", Err: err}
	}
	return nil
}
