// Package enumroute implements the enum-routing retrieval index of spec.md
// §4.4: a compact, persisted index mapping literal enum values found in a
// query to the workflow/agent/SQL documents whose templates reference those
// enums, used to short-circuit vector retrieval with deterministic matches.
// Grounded on original_source's
// crates/core/src/service/retrieval/enum_index/{builder,manager}.rs; that
// directory's types.rs and renderer.rs were filtered out of the retrieved
// pack, so the types below and the matching/rendering logic in renderer.go
// are reconstructed from builder.rs's field usage and spec.md §4.4's prose
// rather than ported line for line.
package enumroute

// LexEntry links one interned pattern string (a literal enum surface value)
// back to the variable/value pair it represents. A pattern_id may carry
// several LexEntry values when two different variables share a literal
// surface string (e.g. "march" as both a month and a project codename).
type LexEntry struct {
	VarID   uint16 `json:"var_id"`
	ValueID uint16 `json:"value_id"`
}

// PlaceholderSpan is a half-open byte range [Start, End) within a template
// string occupied by one `{{var[|filter]}}` placeholder, including the
// delimiters.
type PlaceholderSpan struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// TemplateVar is one placeholder parsed out of a template: its variable
// name, the span it occupies, and whether that name resolves to a known
// enum variable.
type TemplateVar struct {
	Name   string          `json:"name"`
	Span   PlaceholderSpan `json:"span"`
	IsEnum bool            `json:"is_enum"`
}

// TemplateSpec is one inclusion or exclusion template, pre-parsed at build
// time so query-time rendering never has to re-scan it for placeholders.
type TemplateSpec struct {
	Template         string        `json:"template"`
	IsExclusion      bool          `json:"is_exclusion"`
	SourceIdentifier string        `json:"source_identifier"`
	SourceType       string        `json:"source_type"`
	EnumVarsMask     uint64        `json:"enum_vars_mask"`
	Vars             []TemplateVar `json:"vars"`
}

// EnumRoutingBlob is the full persisted index: every interned enum pattern,
// the variable/value pairs each pattern can mean, the parsed templates that
// reference enum variables, and the dense var_id-indexed lookup tables used
// to go from a matched variable straight to the templates it can satisfy.
type EnumRoutingBlob struct {
	Patterns        []string     `json:"patterns"`
	PatternToLex    [][]LexEntry `json:"pattern_to_lex"`
	Templates       []TemplateSpec `json:"templates"`
	VarNames        []string     `json:"var_names"`
	VarToTemplates  [][]uint32   `json:"var_to_templates"`
}

// SemanticEnum is one semantic-layer dimension enum, e.g.
// ("dimensions.month", ["january", "february", ...]).
type SemanticEnum struct {
	Name   string
	Values []string
}

// RetrievalDocument is one document fed into BuildRoutingBlob: a workflow,
// agent, or SQL model description carrying retrieval inclusion/exclusion
// templates and the enum variables it declares.
type RetrievalDocument struct {
	SourceIdentifier string
	SourceType       string
	Inclusions       []string
	Exclusions       []string
	EnumVariables    map[string][]string
}

// RenderedRetrievalTemplate is one matched-and-rendered template, ready to
// be fed into the vector store alongside dense/FTS results.
type RenderedRetrievalTemplate struct {
	RenderedText     string `json:"rendered_text"`
	IsExclusion      bool   `json:"is_exclusion"`
	SourceIdentifier string `json:"source_identifier"`
	SourceType       string `json:"source_type"`
	OriginalTemplate string `json:"original_template"`
}
