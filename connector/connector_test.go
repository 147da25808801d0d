package connector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/config"
	"github.com/oxy-hq/oxy-engine/connector"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

func TestNew_UnsupportedTypeReturnsConfigurationError(t *testing.T) {
	_, err := connector.New(context.Background(), config.DatabaseConfig{Type: "oracle", Database: "warehouse"})
	require.Error(t, err)
	assert.True(t, oxyerr.Is(err, oxyerr.ConfigurationError))
}

func TestNew_UnwiredBackendsAreReachableAndReturnConfigurationError(t *testing.T) {
	for _, dbType := range []string{"bigquery", "snowflake", "omni", "motherduck"} {
		// Each unwired backend's Open always fails, so New itself returns
		// the backend's own ConfigurationError rather than the
		// unsupported-type error of its default branch.
		_, err := connector.New(context.Background(), config.DatabaseConfig{Type: dbType, DSN: "anything"})
		require.Error(t, err, dbType)
		assert.Contains(t, err.Error(), dbType+" connector is not wired", dbType)
		assert.True(t, oxyerr.Is(err, oxyerr.ConfigurationError), dbType)
	}
}

func TestNew_DuckDBDispatchesToEmbeddedEngine(t *testing.T) {
	conn, err := connector.New(context.Background(), config.DatabaseConfig{Type: "duckdb", DSN: ":memory:"})
	require.NoError(t, err)
	require.NotNil(t, conn)

	result, err := conn.RunQueryAndLoad(context.Background(), "SELECT 1 AS one")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
}

func TestResolver_CachesConnectorPerDatabaseName(t *testing.T) {
	cfg := config.NewStaticResolver()
	cfg.Databases["warehouse"] = config.DatabaseConfig{Type: "duckdb", DSN: ":memory:"}

	resolver := connector.NewResolver(context.Background(), cfg)

	first, err := resolver.Connector("warehouse")
	require.NoError(t, err)
	second, err := resolver.Connector("warehouse")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestResolver_UnknownDatabasePropagatesConfigurationError(t *testing.T) {
	cfg := config.NewStaticResolver()
	resolver := connector.NewResolver(context.Background(), cfg)

	_, err := resolver.Connector("missing")
	require.Error(t, err)
	assert.True(t, oxyerr.Is(err, oxyerr.ConfigurationError))
}
