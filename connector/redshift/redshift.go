// Package redshift implements connector.Connector for Redshift, which
// speaks the PostgreSQL wire protocol; the original engine routes Redshift
// through the same connectorx driver as Postgres with a cursor-mode query
// option appended, so this package is a thin wrapper over connector/postgres
// rather than a separate client.
package redshift

import (
	"context"

	"github.com/oxy-hq/oxy-engine/connector/postgres"
	"github.com/oxy-hq/oxy-engine/executor"
)

// Connector runs SQL against a Redshift cluster over the Postgres wire
// protocol.
type Connector struct {
	*postgres.Connector
}

var _ executor.Connector = (*Connector)(nil)

// Open connects to dsn (a postgres:// DSN pointed at a Redshift endpoint).
func Open(ctx context.Context, dsn string) (*Connector, error) {
	pg, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Connector{Connector: pg}, nil
}
