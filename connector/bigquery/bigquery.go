// Package bigquery declares the BigQuery Connector backend spec.md §4.7
// names. No BigQuery client (nor a connectorx-equivalent cross-dialect
// driver) appears anywhere in the retrieved pack, so this is an explicit
// "not wired" stub rather than a fabricated client — see DESIGN.md.
package bigquery

import (
	"context"

	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// Connector is an unimplemented placeholder satisfying executor.Connector.
type Connector struct{}

var _ executor.Connector = Connector{}

// Open always fails: BigQuery is a declared but unwired backend.
func Open(ctx context.Context, keyPath string) (Connector, error) {
	return Connector{}, oxyerr.New(oxyerr.ConfigurationError, "bigquery connector is not wired in this build")
}

func (Connector) RunQuery(ctx context.Context, sql string) (string, error) {
	return "", oxyerr.New(oxyerr.ConfigurationError, "bigquery connector is not wired in this build")
}

func (Connector) RunQueryAndLoad(ctx context.Context, sql string) (executor.QueryResult, error) {
	return executor.QueryResult{}, oxyerr.New(oxyerr.ConfigurationError, "bigquery connector is not wired in this build")
}

func (Connector) RunQueryWithLimit(ctx context.Context, sql string, limit int) (executor.QueryResult, error) {
	return executor.QueryResult{}, oxyerr.New(oxyerr.ConfigurationError, "bigquery connector is not wired in this build")
}

func (Connector) ExplainQuery(ctx context.Context, sql string) (string, error) {
	return "", oxyerr.New(oxyerr.ConfigurationError, "bigquery connector is not wired in this build")
}

func (Connector) DryRun(ctx context.Context, sql string) error {
	return oxyerr.New(oxyerr.ConfigurationError, "bigquery connector is not wired in this build")
}
