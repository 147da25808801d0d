package enumroute

import (
	"sort"

	"github.com/oxy-hq/oxy-engine/enumroute/ahocorasick"
)

// enumMatch is one concrete (var_id, value_id) occurrence found in a query,
// expanded from an Aho-Corasick pattern match via pattern_to_lex.
type enumMatch struct {
	varID, valueID   uint16
	start, end       int
	patternID        int
}

// findMatches scans query with ac and expands every pattern hit into its
// underlying (var_id, value_id, start, end) entries via blob.PatternToLex
// (spec.md §4.4, "Match and render", steps 1-2).
func findMatches(ac *ahocorasick.Automaton, blob EnumRoutingBlob, query string) []enumMatch {
	hits := ac.FindAll(query)
	var matches []enumMatch
	for _, h := range hits {
		if h.PatternID < 0 || h.PatternID >= len(blob.PatternToLex) {
			continue
		}
		for _, lex := range blob.PatternToLex[h.PatternID] {
			matches = append(matches, enumMatch{
				varID:     lex.VarID,
				valueID:   lex.ValueID,
				start:     h.Start,
				end:       h.End,
				patternID: h.PatternID,
			})
		}
	}
	return matches
}

// matchedVarMask ORs in 1<<var_id for every matched variable with
// var_id < 64, mirroring how TemplateSpec.EnumVarsMask itself is built.
func matchedVarMask(matches []enumMatch) uint64 {
	var mask uint64
	for _, m := range matches {
		if m.varID < 64 {
			mask |= 1 << m.varID
		}
	}
	return mask
}

// candidateTemplates computes the union of var_to_templates[var_id] over
// every matched var_id, keeping only templates whose enum_vars_mask is
// fully covered by the matched variables, deduplicated and in first-seen
// order (spec.md §4.4, "Match and render", step 3).
func candidateTemplates(blob EnumRoutingBlob, matches []enumMatch) []int {
	mask := matchedVarMask(matches)

	seen := map[int]bool{}
	var candidates []int
	addFromVar := func(varID uint16) {
		if int(varID) >= len(blob.VarToTemplates) {
			return
		}
		for _, tid32 := range blob.VarToTemplates[varID] {
			tid := int(tid32)
			if seen[tid] {
				continue
			}
			if tid < 0 || tid >= len(blob.Templates) {
				continue
			}
			if blob.Templates[tid].EnumVarsMask&^mask != 0 {
				continue // template references an enum var we didn't match
			}
			seen[tid] = true
			candidates = append(candidates, tid)
		}
	}

	// Iterate matched var ids in ascending order for determinism; map
	// iteration over seen/matches would otherwise make insertion order
	// depend on scan order, which is already deterministic left-to-right,
	// so this just avoids depending on enumMatch slice order beyond that.
	varIDs := map[uint16]bool{}
	for _, m := range matches {
		varIDs[m.varID] = true
	}
	sortedVarIDs := make([]int, 0, len(varIDs))
	for id := range varIDs {
		sortedVarIDs = append(sortedVarIDs, int(id))
	}
	sort.Ints(sortedVarIDs)
	for _, id := range sortedVarIDs {
		addFromVar(uint16(id))
	}

	return candidates
}

// renderTemplate substitutes every enum-variable placeholder span in
// spec's template with the first-by-position matched value for that
// variable (spec.md §4.4, "Match and render", step 4). Non-enum variables
// and any enum variable with no match in this query are left untouched.
func renderTemplate(spec TemplateSpec, matches []enumMatch, blob EnumRoutingBlob) string {
	// For each variable name, find the earliest-position match. The value
	// text substituted is the canonical pattern string that match resolved
	// to (patternValue), not the matched substring of the query, so a query
	// typed as "January" renders the stored "january".
	bestByVar := map[string]enumMatch{}
	for _, v := range spec.Vars {
		if !v.IsEnum {
			continue
		}
		varID, ok := varIDByName(blob, v.Name)
		if !ok {
			continue
		}
		var best *enumMatch
		for i := range matches {
			m := matches[i]
			if m.varID != varID {
				continue
			}
			if best == nil || m.start < best.start {
				best = &matches[i]
			}
		}
		if best != nil {
			bestByVar[v.Name] = *best
		}
	}

	type replacement struct {
		start, end int
		text       string
	}
	var replacements []replacement
	for _, v := range spec.Vars {
		m, ok := bestByVar[v.Name]
		if !ok {
			continue
		}
		value := patternValue(blob, m)
		replacements = append(replacements, replacement{start: int(v.Span.Start), end: int(v.Span.End), text: value})
	}
	sort.Slice(replacements, func(i, j int) bool { return replacements[i].start < replacements[j].start })

	out := spec.Template
	offset := 0
	for _, r := range replacements {
		s, e := r.start+offset, r.end+offset
		if s < 0 || e > len(out) || s > e {
			continue
		}
		out = out[:s] + r.text + out[e:]
		offset += len(r.text) - (e - s)
	}
	return out
}

func varIDByName(blob EnumRoutingBlob, name string) (uint16, bool) {
	for id, n := range blob.VarNames {
		if n == name {
			return uint16(id), true
		}
	}
	return 0, false
}

// patternValue resolves a matched pattern back to the literal enum value
// text: the pattern string itself is the canonical surface form recorded
// at build time, so it is also the substitution text.
func patternValue(blob EnumRoutingBlob, m enumMatch) string {
	if m.patternID < 0 || m.patternID >= len(blob.Patterns) {
		return ""
	}
	return blob.Patterns[m.patternID]
}

// Render runs the full query-time pipeline: match, candidate selection, and
// per-template rendering, returning one RenderedRetrievalTemplate per
// candidate template in candidateTemplates' order (spec.md §4.4's
// "Match and render at query time").
func Render(ac *ahocorasick.Automaton, blob EnumRoutingBlob, query string) []RenderedRetrievalTemplate {
	matches := findMatches(ac, blob, query)
	if len(matches) == 0 {
		return nil
	}
	candidates := candidateTemplates(blob, matches)
	if len(candidates) == 0 {
		return nil
	}

	out := make([]RenderedRetrievalTemplate, 0, len(candidates))
	for _, tid := range candidates {
		spec := blob.Templates[tid]
		out = append(out, RenderedRetrievalTemplate{
			RenderedText:     renderTemplate(spec, matches, blob),
			IsExclusion:      spec.IsExclusion,
			SourceIdentifier: spec.SourceIdentifier,
			SourceType:       spec.SourceType,
			OriginalTemplate: spec.Template,
		})
	}
	return out
}
