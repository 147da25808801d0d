package enumroute

import (
	"context"
	"sort"
	"strings"

	"github.com/oxy-hq/oxy-engine/telemetry"
)

// indexBuilder accumulates the global enum variable table and parsed
// template specs across every seeded document, mirroring builder.rs's
// IndexBuilder. Unexported: callers only ever see the finished blob via
// BuildRoutingBlob.
type indexBuilder struct {
	varNameToID  map[string]uint16
	varOrder     []string   // var_id -> name, built incrementally
	varValues    [][]string // var_id -> its seen values, in first-seen order
	patterns     []string
	patternIndex map[string]int // pattern text -> pattern_id
	patternLex   [][]LexEntry
	templates    []TemplateSpec

	ctx    context.Context
	logger telemetry.Logger
}

func newIndexBuilder(ctx context.Context, logger telemetry.Logger) *indexBuilder {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &indexBuilder{
		varNameToID:  map[string]uint16{},
		patternIndex: map[string]int{},
		ctx:          ctx,
		logger:       logger,
	}
}

// seedEnumVariables assigns a stable var_id to every new variable name,
// a stable value_id per distinct value within that variable, and links
// each surface form to a pattern_id shared by every variable that uses the
// same literal string.
func (b *indexBuilder) seedEnumVariables(nameValues []SemanticEnum) {
	for _, nv := range nameValues {
		varID, ok := b.varNameToID[nv.Name]
		if !ok {
			varID = uint16(len(b.varNameToID))
			b.varNameToID[nv.Name] = varID
			b.varOrder = append(b.varOrder, nv.Name)
			b.varValues = append(b.varValues, nil)
		}

		for _, s := range nv.Values {
			values := b.varValues[varID]
			valueID := -1
			for i, v := range values {
				if v == s {
					valueID = i
					break
				}
			}
			if valueID < 0 {
				values = append(values, s)
				b.varValues[varID] = values
				valueID = len(values) - 1
			}

			pid, ok := b.patternIndex[s]
			if !ok {
				pid = len(b.patterns)
				b.patterns = append(b.patterns, s)
				b.patternIndex[s] = pid
				b.patternLex = append(b.patternLex, nil)
			}
			b.patternLex[pid] = append(b.patternLex[pid], LexEntry{VarID: varID, ValueID: uint16(valueID)})
		}
	}
}

// buildTemplateSpecs parses every inclusion/exclusion template of doc for
// `{{var[|filter]}}` placeholder spans, computes each template's
// enum_vars_mask, and appends a TemplateSpec for every template that
// references at least one enum variable (spec.md §4.4.2).
func (b *indexBuilder) buildTemplateSpecs(doc RetrievalDocument) {
	type entry struct {
		text        string
		isExclusion bool
	}
	entries := make([]entry, 0, len(doc.Inclusions)+len(doc.Exclusions))
	for _, t := range doc.Inclusions {
		entries = append(entries, entry{t, false})
	}
	for _, t := range doc.Exclusions {
		entries = append(entries, entry{t, true})
	}

	for _, e := range entries {
		spans := parsePlaceholders(e.text)

		var mask uint64
		vars := make([]TemplateVar, 0, len(spans))
		seen := map[string]bool{}
		for _, span := range spans {
			if span.name == "" || seen[span.name] {
				continue
			}
			seen[span.name] = true

			isEnum := false
			if id, ok := b.varNameToID[span.name]; ok {
				isEnum = true
				if id < 64 {
					mask |= 1 << id
				}
			}

			vars = append(vars, TemplateVar{
				Name:   span.name,
				Span:   PlaceholderSpan{Start: uint32(span.start), End: uint32(span.end)},
				IsEnum: isEnum,
			})
		}

		if mask == 0 {
			continue
		}

		for _, v := range vars {
			if !v.IsEnum {
				b.logger.Warn(b.ctx, "template references non-enum variable", "variable", v.Name, "source_identifier", doc.SourceIdentifier, "source_type", doc.SourceType)
			}
		}

		b.templates = append(b.templates, TemplateSpec{
			Template:         e.text,
			IsExclusion:      e.isExclusion,
			SourceIdentifier: doc.SourceIdentifier,
			SourceType:       doc.SourceType,
			EnumVarsMask:     mask,
			Vars:             vars,
		})
	}
}

type placeholderSpan struct {
	start, end int
	name       string
}

// parsePlaceholders hand-scans template for `{{...}}` spans rather than
// invoking a templating engine: the enum router only ever needs the
// variable name (the part before an optional `|filter`) and the exact byte
// range to substitute later, and the source strings here are short
// human-authored retrieval descriptions, not full template documents.
func parsePlaceholders(template string) []placeholderSpan {
	var spans []placeholderSpan
	i := 0
	for {
		rel := strings.Index(template[i:], "{{")
		if rel < 0 {
			break
		}
		start := i + rel
		afterOpen := start + 2
		endRel := strings.Index(template[afterOpen:], "}}")
		if endRel < 0 {
			break
		}
		end := afterOpen + endRel
		inner := strings.TrimSpace(template[afterOpen:end])
		name := strings.TrimSpace(strings.SplitN(inner, "|", 2)[0])
		spans = append(spans, placeholderSpan{start: start, end: end + 2, name: name})
		i = end + 2
	}
	return spans
}

// finish assembles the dense var_id-indexed lookup tables from the
// accumulated variable table and template list.
func (b *indexBuilder) finish() EnumRoutingBlob {
	varNames := make([]string, len(b.varOrder))
	for name, id := range b.varNameToID {
		varNames[id] = name
	}

	varToTemplates := make([][]uint32, len(varNames))
	for tid, t := range b.templates {
		for _, v := range t.Vars {
			if !v.IsEnum {
				continue
			}
			id, ok := b.varNameToID[v.Name]
			if !ok {
				continue
			}
			varToTemplates[id] = append(varToTemplates[id], uint32(tid))
		}
	}

	return EnumRoutingBlob{
		Patterns:       b.patterns,
		PatternToLex:   b.patternLex,
		Templates:      b.templates,
		VarNames:       varNames,
		VarToTemplates: varToTemplates,
	}
}

// BuildRoutingBlob builds a routing index entirely in memory from the given
// retrieval documents and semantic-enum dimensions (spec.md §4.4's "Build"
// step). Documents are processed sorted by (SourceIdentifier, SourceType),
// so the order of docs does not affect the result as long as each
// document's own enum_variables are inserted in a stable order and no two
// documents share both keys; var_id and value_id assignment follows
// first-seen order in that sorted sequence. logger receives a warning per indexed template that
// references a non-enum variable (spec.md §4.4 build step 3); a nil logger
// discards these.
func BuildRoutingBlob(ctx context.Context, logger telemetry.Logger, docs []RetrievalDocument, semanticEnums []SemanticEnum) EnumRoutingBlob {
	b := newIndexBuilder(ctx, logger)

	b.seedEnumVariables(semanticEnums)

	ordered := make([]RetrievalDocument, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SourceIdentifier != ordered[j].SourceIdentifier {
			return ordered[i].SourceIdentifier < ordered[j].SourceIdentifier
		}
		return ordered[i].SourceType < ordered[j].SourceType
	})

	for _, doc := range ordered {
		if len(doc.EnumVariables) > 0 {
			names := make([]string, 0, len(doc.EnumVariables))
			for name := range doc.EnumVariables {
				names = append(names, name)
			}
			sort.Strings(names)
			pairs := make([]SemanticEnum, 0, len(names))
			for _, name := range names {
				pairs = append(pairs, SemanticEnum{Name: name, Values: doc.EnumVariables[name]})
			}
			b.seedEnumVariables(pairs)
		}
		b.buildTemplateSpecs(doc)
	}

	return b.finish()
}
