// Package postgres implements connector.Connector against a PostgreSQL (or
// Redshift, which speaks the same wire protocol) database using pgx.
// Grounded on pgx usage in codeready-toolchain-tarsy's
// pkg/events/listener.go for connection lifecycle, generalized from a
// single LISTEN connection to a pooled query surface.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oxy-hq/oxy-engine/connector/internal/sqlutil"
	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// Connector runs SQL against a PostgreSQL database through a connection
// pool.
type Connector struct {
	pool *pgxpool.Pool
}

var _ executor.Connector = (*Connector)(nil)

// Open connects to dsn and returns a ready Connector.
func Open(ctx context.Context, dsn string) (*Connector, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.DBError, err, "opening postgres connection pool")
	}
	return &Connector{pool: pool}, nil
}

// Close releases the connection pool.
func (c *Connector) Close() { c.pool.Close() }

func (c *Connector) RunQuery(ctx context.Context, sql string) (string, error) {
	result, err := c.RunQueryAndLoad(ctx, sql)
	if err != nil {
		return "", err
	}
	return sqlutil.FormatResult(result), nil
}

func (c *Connector) RunQueryAndLoad(ctx context.Context, sql string) (executor.QueryResult, error) {
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "executing query")
	}
	defer rows.Close()
	return loadRows(rows)
}

func (c *Connector) RunQueryWithLimit(ctx context.Context, sql string, limit int) (executor.QueryResult, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS limited_query LIMIT %d", sql, limit))
	if err != nil {
		return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "executing limited query")
	}
	defer rows.Close()
	return loadRows(rows)
}

func (c *Connector) ExplainQuery(ctx context.Context, sql string) (string, error) {
	rows, err := c.pool.Query(ctx, "EXPLAIN "+sql)
	if err != nil {
		return "", oxyerr.Wrap(oxyerr.DBError, err, "explaining query")
	}
	defer rows.Close()
	result, err := loadRows(rows)
	if err != nil {
		return "", err
	}
	return sqlutil.FormatResult(result), nil
}

func (c *Connector) DryRun(ctx context.Context, sql string) error {
	rows, err := c.pool.Query(ctx, "EXPLAIN "+sql)
	if err != nil {
		return oxyerr.Wrap(oxyerr.DBError, err, "dry-running query")
	}
	rows.Close()
	return rows.Err()
}

func loadRows(rows pgx.Rows) (executor.QueryResult, error) {
	fields := rows.FieldDescriptions()
	result := executor.QueryResult{Columns: make([]executor.Column, len(fields))}
	for i, f := range fields {
		result.Columns[i] = executor.Column{Name: f.Name, Type: fmt.Sprintf("oid:%d", f.DataTypeOID)}
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "reading row values")
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return executor.QueryResult{}, oxyerr.Wrap(oxyerr.DBError, err, "reading query result")
	}
	return result, nil
}
