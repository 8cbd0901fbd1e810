package reasoning

import (
	"reflect"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// AgreementScorer compares two final answers facet by facet.
//
// Categorical facets are top-level string fields such as risk_level that both
// answers report. Finding facets are the titled entries of list-valued fields;
// the union of titles forms the facet set and a title agrees when both
// answers list it with the same severity. Each group yields the fraction of
// its facets that agree and the score is the product of the groups that had
// something to compare.
type AgreementScorer struct {
	CategoricalKeys []string
	TitleKeys       []string
	SeverityKeys    []string
}

// DefaultAgreementScorer returns the scorer used when a task has no
// comparator of its own.
func DefaultAgreementScorer() AgreementScorer {
	return AgreementScorer{
		CategoricalKeys: []string{"risk_level", "severity", "overall_severity", "status", "verdict"},
		TitleKeys:       []string{"title", "name", "finding"},
		SeverityKeys:    []string{"severity", "impact", "priority"},
	}
}

// Compare implements Comparator. It is symmetric in a and b.
func (s AgreementScorer) Compare(a, b any) float64 {
	ma, okA := asMap(a)
	mb, okB := asMap(b)
	if !okA || !okB {
		return equalScore(a, b)
	}

	score, compared := 1.0, false
	if agree, total := s.categoricalFacets(ma, mb); total > 0 {
		score *= float64(agree) / float64(total)
		compared = true
	}
	if agree, total := s.findingFacets(ma, mb); total > 0 {
		score *= float64(agree) / float64(total)
		compared = true
	}
	if !compared {
		return equalScore(a, b)
	}
	return clamp01(score)
}

func equalScore(a, b any) float64 {
	if answersEqual(a, b) {
		return 1
	}
	return 0
}

// exportAll lets cmp descend into unexported struct fields.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// answersEqual reports deep equality of two answers. Answers are arbitrary
// caller values, so a cmp panic falls back to reflect.DeepEqual.
func answersEqual(a, b any) (eq bool) {
	defer func() {
		if r := recover(); r != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return cmp.Equal(a, b, exportAll)
}

func (s AgreementScorer) categoricalFacets(a, b map[string]any) (agree, total int) {
	for _, k := range s.CategoricalKeys {
		va, okA := a[k].(string)
		vb, okB := b[k].(string)
		if !okA || !okB {
			continue
		}
		total++
		if normalizeLabel(va) == normalizeLabel(vb) {
			agree++
		}
	}
	return agree, total
}

func (s AgreementScorer) findingFacets(a, b map[string]any) (agree, total int) {
	fa := s.titledEntries(a)
	fb := s.titledEntries(b)
	union := make(map[string]bool, len(fa)+len(fb))
	for k := range fa {
		union[k] = true
	}
	for k := range fb {
		union[k] = true
	}
	for k := range union {
		total++
		ea, inA := fa[k]
		eb, inB := fb[k]
		if !inA || !inB {
			continue
		}
		sa, hasA := s.severityOf(ea)
		sb, hasB := s.severityOf(eb)
		if hasA && hasB && sa != sb {
			continue
		}
		agree++
	}
	return agree, total
}

// titledEntries indexes the titled objects of every list-valued field by
// field name and normalised title.
func (s AgreementScorer) titledEntries(m map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, field := range sortedKeys(m) {
		for _, item := range listItems(m[field]) {
			entry, ok := asMap(item)
			if !ok {
				continue
			}
			title, ok := s.titleOf(entry)
			if !ok {
				continue
			}
			key := field + "\x00" + title
			if _, dup := out[key]; !dup {
				out[key] = entry
			}
		}
	}
	return out
}

func (s AgreementScorer) titleOf(entry map[string]any) (string, bool) {
	for _, k := range s.TitleKeys {
		if t, ok := entry[k].(string); ok && strings.TrimSpace(t) != "" {
			return normalizeText(t), true
		}
	}
	return "", false
}

func (s AgreementScorer) severityOf(entry map[string]any) (string, bool) {
	for _, k := range s.SeverityKeys {
		if v, ok := entry[k].(string); ok && v != "" {
			return normalizeLabel(v), true
		}
	}
	return "", false
}

func listItems(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	}
	return nil
}

// normalizeText lowercases and collapses whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// severityRank orders severity labels; unknown labels rank as medium.
func severityRank(label string) int {
	switch normalizeLabel(label) {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium", "moderate":
		return 2
	case "low":
		return 1
	case "info", "none":
		return 0
	default:
		return 2
	}
}

func isSeverityLabel(label string) bool {
	switch normalizeLabel(label) {
	case "critical", "high", "medium", "moderate", "low", "info", "none":
		return true
	}
	return false
}

// Merge combines two answers for a consensus resolution. List-valued fields
// are unioned; entries sharing a title collapse to the higher-severity one.
// Categorical severities resolve to the higher label and every other scalar
// prefers a. Non-object answers resolve to a.
func (s AgreementScorer) Merge(a, b any) any {
	ma, okA := asMap(a)
	mb, okB := asMap(b)
	if !okA || !okB {
		return copyValue(a)
	}

	out := make(map[string]any, len(ma)+len(mb))
	keys := make(map[string]bool)
	for k := range ma {
		keys[k] = true
	}
	for k := range mb {
		keys[k] = true
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	for _, k := range ordered {
		va, inA := ma[k]
		vb, inB := mb[k]
		switch {
		case !inA:
			out[k] = copyValue(vb)
		case !inB:
			out[k] = copyValue(va)
		default:
			out[k] = s.mergeValue(k, va, vb)
		}
	}
	return out
}

func (s AgreementScorer) mergeValue(key string, a, b any) any {
	la, listA := a.([]any)
	lb, listB := b.([]any)
	if !listA || !listB {
		if la2 := listItems(a); la2 != nil {
			la, listA = la2, true
		}
		if lb2 := listItems(b); lb2 != nil {
			lb, listB = lb2, true
		}
	}
	if listA && listB {
		return s.unionList(la, lb)
	}

	sa, strA := a.(string)
	sb, strB := b.(string)
	if strA && strB && s.isCategorical(key) && isSeverityLabel(sa) && isSeverityLabel(sb) {
		if severityRank(sb) > severityRank(sa) {
			return sb
		}
		return sa
	}
	return copyValue(a)
}

func (s AgreementScorer) isCategorical(key string) bool {
	for _, k := range s.CategoricalKeys {
		if k == key {
			return true
		}
	}
	return false
}

// unionList keeps a's order, then appends b's new entries. Titled duplicates
// are replaced in place by the higher-severity entry; untitled duplicates
// are detected with answersEqual.
func (s AgreementScorer) unionList(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	titled := make(map[string]int)

	add := func(item any) {
		if entry, ok := asMap(item); ok {
			if title, ok := s.titleOf(entry); ok {
				if idx, dup := titled[title]; dup {
					existing, _ := asMap(out[idx])
					if s.rank(entry) > s.rank(existing) {
						out[idx] = copyValue(item)
					}
					return
				}
				titled[title] = len(out)
				out = append(out, copyValue(item))
				return
			}
		}
		for _, have := range out {
			if answersEqual(have, item) {
				return
			}
		}
		out = append(out, copyValue(item))
	}

	for _, item := range a {
		add(item)
	}
	for _, item := range b {
		add(item)
	}
	return out
}

func (s AgreementScorer) rank(entry map[string]any) int {
	if sev, ok := s.severityOf(entry); ok {
		return severityRank(sev)
	}
	return -1
}
