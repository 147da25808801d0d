// Package mysql implements connector.Connector against a MySQL database
// using go-sql-driver/mysql (grounded on its presence across the pack's
// other_examples manifests, per SPEC_FULL.md's domain-stack table).
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/oxy-hq/oxy-engine/connector/internal/sqlutil"
	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// Connector runs SQL against a MySQL database.
type Connector struct {
	db *sql.DB
}

var _ executor.Connector = (*Connector)(nil)

// Open connects to dsn (a go-sql-driver/mysql DSN, user:pass@tcp(host:port)/db).
func Open(ctx context.Context, dsn string) (*Connector, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.DBError, err, "opening mysql connector")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, oxyerr.Wrap(oxyerr.DBError, err, "connecting to mysql")
	}
	return &Connector{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Connector) Close() error { return c.db.Close() }

func (c *Connector) RunQuery(ctx context.Context, query string) (string, error) {
	result, err := c.RunQueryAndLoad(ctx, query)
	if err != nil {
		return "", err
	}
	return sqlutil.FormatResult(result), nil
}

func (c *Connector) RunQueryAndLoad(ctx context.Context, query string) (executor.QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "executing query")
	}
	defer rows.Close()
	return sqlutil.LoadRows(rows)
}

func (c *Connector) RunQueryWithLimit(ctx context.Context, query string, limit int) (executor.QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (%s) AS limited_query LIMIT %d", query, limit))
	if err != nil {
		return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "executing limited query")
	}
	defer rows.Close()
	return sqlutil.LoadRows(rows)
}

func (c *Connector) ExplainQuery(ctx context.Context, query string) (string, error) {
	rows, err := c.db.QueryContext(ctx, "EXPLAIN "+query)
	if err != nil {
		return "", oxyerr.Wrap(oxyerr.DBError, err, "explaining query")
	}
	defer rows.Close()
	result, err := sqlutil.LoadRows(rows)
	if err != nil {
		return "", err
	}
	return sqlutil.FormatResult(result), nil
}

func (c *Connector) DryRun(ctx context.Context, query string) error {
	rows, err := c.db.QueryContext(ctx, "EXPLAIN "+query)
	if err != nil {
		return oxyerr.Wrap(oxyerr.DBError, err, "dry-running query")
	}
	defer rows.Close()
	return rows.Err()
}
