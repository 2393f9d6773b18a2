// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package csql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/roa/core"
	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/metrics"
	"github.com/relabs-tech/roa/core/statement"
)

// Row is a single result row, keyed by column name
type Row map[string]interface{}

// Result is the fully read result of a statement
type Result struct {
	Columns []string
	Rows    []Row
	// RowCount is the number of returned rows, or the number of affected rows
	// for statements which do not return rows.
	RowCount int64
}

// Scalar returns the first column of the first row, or nil
func (r *Result) Scalar() interface{} {
	if r == nil || len(r.Rows) == 0 || len(r.Columns) == 0 {
		return nil
	}
	return r.Rows[0][r.Columns[0]]
}

// Count returns the scalar result of a count(*) statement
func (r *Result) Count() (int64, error) {
	switch v := r.Scalar().(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, errors.New("statement did not return a count")
	}
}

// Querier executes statements. It is implemented by *Conn and *Tx.
type Querier interface {
	Execute(ctx context.Context, s *statement.Statement) (*Result, error)
}

// ErrReleased is returned when a released connection is used
var ErrReleased = errors.New("connection already released")

// Conn is a connection acquired from the pool. Statements on one connection are
// executed one at a time. Every acquired connection must be released exactly once.
type Conn struct {
	db       *DB
	conn     *sql.Conn
	mutex    sync.Mutex
	once     sync.Once
	released bool
}

// Acquire takes a connection from the pool
func (db *DB) Acquire(ctx context.Context) (*Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, &core.QueryError{Statement: "acquire", Err: err}
	}
	return &Conn{db: db, conn: conn}, nil
}

// Release returns the connection to the pool. If poison is true the connection
// is discarded instead, so a broken session is never reused. Only the first call
// has an effect.
func (c *Conn) Release(poison bool) {
	c.once.Do(func() {
		c.mutex.Lock()
		defer c.mutex.Unlock()
		c.released = true
		if poison {
			metrics.PoisonedConnectionsTotal.Inc()
			logger.FromContext(nil).Warnln("discard poisoned database connection")
			c.conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		}
		c.conn.Close()
	})
}

// Execute runs the statement on the connection and reads its result completely
func (c *Conn) Execute(ctx context.Context, s *statement.Statement) (*Result, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.released {
		return nil, &core.QueryError{Statement: s.Name(), Err: ErrReleased}
	}
	return c.db.execute(ctx, c.conn, s)
}

// Transact runs fn inside a transaction on this connection. The transaction is
// committed if fn returns nil, otherwise it is rolled back. A panic of fn is
// rolled back and returned as *core.PanicError. A failing commit or rollback is
// reported as QueryError.
func (c *Conn) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := c.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err = core.Protect(func() error { return fn(tx) }); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			logger.FromContext(ctx).WithError(rerr).Errorln("cannot rollback after", err)
			return rerr
		}
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func returnsRows(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(t, "select") || strings.HasPrefix(t, "with") || strings.Contains(t, " returning ")
}

func (db *DB) execute(ctx context.Context, q queryer, s *statement.Statement) (result *Result, err error) {
	rlog := logger.FromContext(ctx)
	if db.LogSQL {
		rlog.Debugf("sql %s: %s %v", s.Name(), s.Text(), s.Values())
	}
	start := time.Now()
	defer func() {
		metrics.RecordStatement(s.Name(), time.Since(start), err)
		if err != nil {
			rlog.WithError(err).Errorf("statement %s failed: %s", s.Name(), s.Text())
		}
	}()

	if !returnsRows(s.Text()) {
		res, err := q.ExecContext(ctx, s.Text(), s.Values()...)
		if err != nil {
			return nil, &core.QueryError{Statement: s.Name(), Err: err}
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, &core.QueryError{Statement: s.Name(), Err: err}
		}
		return &Result{RowCount: affected}, nil
	}

	rows, err := q.QueryContext(ctx, s.Text(), s.Values()...)
	if err != nil {
		return nil, &core.QueryError{Statement: s.Name(), Err: err}
	}
	defer rows.Close()
	result, err = readRows(rows)
	if err != nil {
		return nil, &core.QueryError{Statement: s.Name(), Err: err}
	}
	return result, nil
}

func readRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err = rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalize(values[i], types[i].DatabaseTypeName())
		}
		result.Rows = append(result.Rows, row)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = int64(len(result.Rows))
	return result, nil
}

// text columns may arrive as bytes depending on the driver
func normalize(value interface{}, databaseType string) interface{} {
	if b, ok := value.([]byte); ok {
		switch strings.ToUpper(databaseType) {
		case "BYTEA", "BLOB":
			return b
		}
		return string(b)
	}
	return value
}
