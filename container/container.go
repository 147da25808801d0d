// Package container implements OutputContainer, the recursively structured
// result every task and workflow produces. It is a tagged union rather than
// a Go interface hierarchy because it must serialize into the renderer's
// template context and into checkpoint bodies; a single struct with a Kind
// discriminator keeps both paths simple.
package container

import "encoding/json"

// Kind discriminates the variant an OutputContainer currently holds.
type Kind string

const (
	KindText          Kind = "text"
	KindTable         Kind = "table"
	KindSQL           Kind = "sql"
	KindOmniQuery     Kind = "omni_query"
	KindSemanticQuery Kind = "semantic_query"
	KindList          Kind = "list"
	KindMap           Kind = "map"
	KindVariable      Kind = "variable"
	KindMetadata      Kind = "metadata"
	KindConsistency   Kind = "consistency"
)

// Table is the materialized reference to a query result set: a file path
// plus the provenance needed to re-describe it (the database it came from
// and the SQL that produced it).
type Table struct {
	Path        string   `json:"path"`
	DatabaseRef string   `json:"database_ref"`
	SQL         string   `json:"sql"`
	Columns     []Column `json:"columns,omitempty"`
	RowCount    int      `json:"row_count"`
}

// Column describes one field of a Table's schema.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Metadata wraps a leaf OutputContainer with artifact references and
// free-form key/value metadata (at minimum the source prompt, for agent
// outputs).
type Metadata struct {
	Output     OutputContainer   `json:"output"`
	References []string          `json:"references"`
	Metadata   map[string]string `json:"metadata"`
}

// Consistency records the outcome of an N-vote consistency run: the winning
// value and the fraction of votes it received.
type Consistency struct {
	Value Metadata `json:"value"`
	Score float64  `json:"score"`
}

// OutputContainer is the tagged union described in the data model: leaf
// content (Text/Table/SQL/OmniQuery/SemanticQuery), recursive structure
// (List/Map), a bound Variable, and the two enriched forms (Metadata,
// Consistency).
type OutputContainer struct {
	Kind Kind `json:"kind"`

	Text          string            `json:"text,omitempty"`
	Table         *Table            `json:"table,omitempty"`
	SQL           string            `json:"sql,omitempty"`
	OmniQuery     map[string]any    `json:"omni_query,omitempty"`
	SemanticQuery map[string]any    `json:"semantic_query,omitempty"`
	List          []OutputContainer `json:"list,omitempty"`
	Map           map[string]OutputContainer `json:"map,omitempty"`
	Variable      json.RawMessage   `json:"variable,omitempty"`
	Metadata      *Metadata         `json:"metadata,omitempty"`
	Consistency   *Consistency      `json:"consistency,omitempty"`
}

// Text constructs a leaf text OutputContainer.
func Text(s string) OutputContainer { return OutputContainer{Kind: KindText, Text: s} }

// TableOf constructs a leaf table OutputContainer.
func TableOf(t Table) OutputContainer { return OutputContainer{Kind: KindTable, Table: &t} }

// SQLOf constructs a leaf SQL OutputContainer.
func SQLOf(sql string) OutputContainer { return OutputContainer{Kind: KindSQL, SQL: sql} }

// VariableOf constructs a bound-variable OutputContainer from an arbitrary
// JSON-serializable value.
func VariableOf(v any) OutputContainer {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte("null")
	}
	return OutputContainer{Kind: KindVariable, Variable: raw}
}

// List constructs a list OutputContainer, used for loop results.
func List(items ...OutputContainer) OutputContainer {
	return OutputContainer{Kind: KindList, List: items}
}

// MapOf constructs a map OutputContainer from named entries, used for
// workflow task-result accumulation.
func MapOf(m map[string]OutputContainer) OutputContainer {
	return OutputContainer{Kind: KindMap, Map: m}
}

// WithMetadata wraps output with references and metadata.
func WithMetadata(output OutputContainer, references []string, metadata map[string]string) OutputContainer {
	return OutputContainer{Kind: KindMetadata, Metadata: &Metadata{Output: output, References: references, Metadata: metadata}}
}

// WithConsistency constructs a Consistency OutputContainer recording an
// N-vote winner and its score.
func WithConsistency(value Metadata, score float64) OutputContainer {
	return OutputContainer{Kind: KindConsistency, Consistency: &Consistency{Value: value, Score: score}}
}

// Merge combines c with other following the rules in the design notes:
// leaves prefer the latter value; Map unions entries with later keys
// winning (recursing into shared keys); List appends. Any other
// kind-mismatch also prefers other, matching "leaves prefer the latter".
func (c OutputContainer) Merge(other OutputContainer) OutputContainer {
	if c.Kind != KindMap || other.Kind != KindMap {
		if other.Kind == KindList && c.Kind == KindList {
			return List(append(append([]OutputContainer{}, c.List...), other.List...)...)
		}
		return other
	}
	merged := make(map[string]OutputContainer, len(c.Map)+len(other.Map))
	for k, v := range c.Map {
		merged[k] = v
	}
	for k, v := range other.Map {
		if existing, ok := merged[k]; ok {
			merged[k] = existing.Merge(v)
		} else {
			merged[k] = v
		}
	}
	return MapOf(merged)
}

// Entry builds a single-entry Map OutputContainer, the shape the workflow
// executor folds each task's result into before merging with the
// accumulated run state.
func Entry(name string, value OutputContainer) OutputContainer {
	return MapOf(map[string]OutputContainer{name: value})
}
