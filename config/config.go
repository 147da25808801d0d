// Package config exposes the lookup surface the engine needs from the host
// application (workflow/agent definitions, database connection settings).
// The engine never loads configuration files itself; it is handed a
// Resolver by the embedder.
package config

import (
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// DatabaseConfig describes how to reach a SQL backend for a connector.
type DatabaseConfig struct {
	Type     string // "postgres"/"postgresql", "duckdb"/"duckdb_local"/"duckdb_ducklake", "mysql", "clickhouse", "redshift", "bigquery", "snowflake", "omni", "motherduck"
	DSN      string
	Database string
}

// Resolver looks up named workflows, agents, and databases. Embedders
// provide an implementation backed by however they manage configuration;
// StaticResolver below is a minimal in-memory implementation for tests and
// simple embedding.
type Resolver interface {
	Workflow(name string) (WorkflowRef, error)
	Agent(name string) (AgentRef, error)
	Database(name string) (DatabaseConfig, error)
}

// WorkflowRef is an opaque handle a Resolver returns for a workflow name;
// package workflowdef knows how to turn it into a parsed definition.
type WorkflowRef struct {
	Name   string
	Source []byte // raw YAML
}

// AgentRef is an opaque handle a Resolver returns for an agent name.
type AgentRef struct {
	Name   string
	Source []byte
}

// StaticResolver is an in-memory Resolver backed by maps, suitable for tests
// and for embedders who already hold fully-loaded configuration in memory.
type StaticResolver struct {
	Workflows map[string]WorkflowRef
	Agents    map[string]AgentRef
	Databases map[string]DatabaseConfig
}

// NewStaticResolver constructs an empty StaticResolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		Workflows: map[string]WorkflowRef{},
		Agents:    map[string]AgentRef{},
		Databases: map[string]DatabaseConfig{},
	}
}

func (r *StaticResolver) Workflow(name string) (WorkflowRef, error) {
	wf, ok := r.Workflows[name]
	if !ok {
		return WorkflowRef{}, oxyerr.New(oxyerr.ConfigurationError, "workflow %q not found", name)
	}
	return wf, nil
}

func (r *StaticResolver) Agent(name string) (AgentRef, error) {
	a, ok := r.Agents[name]
	if !ok {
		return AgentRef{}, oxyerr.New(oxyerr.ConfigurationError, "agent %q not found", name)
	}
	return a, nil
}

func (r *StaticResolver) Database(name string) (DatabaseConfig, error) {
	d, ok := r.Databases[name]
	if !ok {
		return DatabaseConfig{}, oxyerr.New(oxyerr.ConfigurationError, "database %q not found", name)
	}
	return d, nil
}
