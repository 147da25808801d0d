// Package duckdb implements connector.Connector for local/DuckLake database
// references. No pure-Go DuckDB driver appears anywhere in the retrieved
// pack, so this backend runs against modernc.org/sqlite instead (the same
// embeddable, dependency-free engine package vectorstore/sqlitestore uses)
// standing in for DuckDB's local-file and DuckLake catalog modes
// (SPEC_FULL.md's domain-stack table).
package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/oxy-hq/oxy-engine/connector/internal/sqlutil"
	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// Connector runs SQL against a local embedded database file.
type Connector struct {
	db *sql.DB
}

var _ executor.Connector = (*Connector)(nil)

// Open opens the database at dsn (a file path, or ":memory:").
func Open(ctx context.Context, dsn string) (*Connector, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.DBError, err, "opening duckdb-compatible connector")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, oxyerr.Wrap(oxyerr.DBError, err, "connecting to duckdb-compatible database")
	}
	return &Connector{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Connector) Close() error { return c.db.Close() }

func (c *Connector) RunQuery(ctx context.Context, sql string) (string, error) {
	result, err := c.RunQueryAndLoad(ctx, sql)
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
