// Package connector implements the uniform SQL execution surface spec.md
// §4.7 describes, dispatching a configured database reference to a
// concrete backend by config.DatabaseConfig.Type. Grounded on
// original_source/crates/core/src/connector/mod.rs's Connector/EngineType
// dispatch (database_type -> engine enum -> run_query*/explain_query/
// dry_run), collapsed onto executor.Connector's narrower interface since
// this module has no Arrow/RecordBatch layer to thread through.
package connector

import (
	"context"

	"github.com/oxy-hq/oxy-engine/config"
	"github.com/oxy-hq/oxy-engine/connector/bigquery"
	"github.com/oxy-hq/oxy-engine/connector/clickhouse"
	"github.com/oxy-hq/oxy-engine/connector/duckdb"
	"github.com/oxy-hq/oxy-engine/connector/motherduck"
	"github.com/oxy-hq/oxy-engine/connector/mysql"
	"github.com/oxy-hq/oxy-engine/connector/omni"
	"github.com/oxy-hq/oxy-engine/connector/postgres"
	"github.com/oxy-hq/oxy-engine/connector/redshift"
	"github.com/oxy-hq/oxy-engine/connector/snowflake"
	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// Connector mirrors executor.Connector; declared again here so this
// package's doc comment is the canonical description of the dispatch
// surface, and so backends can be referred to without importing executor
// directly from their own doc comments.
type Connector = executor.Connector

// QueryResult mirrors executor.QueryResult.
type QueryResult = executor.QueryResult

// Column mirrors executor.Column.
type Column = executor.Column

// New dispatches cfg to the concrete Connector backend its Type names.
func New(ctx context.Context, cfg config.DatabaseConfig) (Connector, error) {
	switch cfg.Type {
	case "postgres", "postgresql":
		return postgres.Open(ctx, cfg.DSN)
	case "duckdb", "duckdb_local", "duckdb_ducklake":
		return duckdb.Open(ctx, cfg.DSN)
	case "mysql":
		return mysql.Open(ctx, cfg.DSN)
	case "clickhouse":
		return clickhouse.Open(ctx, cfg.DSN)
	case "redshift":
		return redshift.Open(ctx, cfg.DSN)
	case "bigquery":
		return bigquery.Open(ctx, cfg.DSN)
	case "snowflake":
		return snowflake.Open(ctx, cfg.DSN)
	case "omni":
		return omni.Open(ctx, cfg.DSN)
	case "motherduck":
		return motherduck.Open(ctx, cfg.DSN)
	default:
		return nil, oxyerr.New(oxyerr.ConfigurationError, "unsupported database type %q for %q", cfg.Type, cfg.Database)
	}
}

// Resolver implements executor.ConnectorResolver against a config.Resolver,
// lazily opening and caching one Connector per database name.
type Resolver struct {
	Config config.Resolver

	ctx   context.Context
	cache map[string]Connector
}

// NewResolver constructs a Resolver. ctx is used only for connector-open
// calls made during Connector lookups, not retained beyond that.
func NewResolver(ctx context.Context, cfg config.Resolver) *Resolver {
	return &Resolver{Config: cfg, ctx: ctx, cache: map[string]Connector{}}
}

func (r *Resolver) Connector(name string) (Connector, error) {
	if conn, ok := r.cache[name]; ok {
		return conn, nil
	}
	dbCfg, err := r.Config.Database(name)
	if err != nil {
		return nil, err
	}
	conn, err := New(r.ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	r.cache[name] = conn
	return conn, nil
}

var _ executor.ConnectorResolver = (*Resolver)(nil)
