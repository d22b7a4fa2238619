package analysis

import (
	"encoding/json"

	"github.com/ericksa/contractd/internal/model"
)

// FallbackOverview is the overview of the result produced for unusable AI output.
const FallbackOverview = "analysis error"

const summaryEnvelope = "analysis_summary"

// Fallback returns the structurally valid result used when a response cannot be read.
func Fallback() model.Result {
	return withSlices(model.Result{Overview: FallbackOverview})
}

// Normalize turns a raw AI response body into the canonical result.
//
// Accepted shapes are a flat result object, the same object wrapped under
// "analysis_summary", or a JSON string holding either of those. Anything
// else degrades to Fallback. Normalize never fails.
func Normalize(raw []byte) model.Result {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Fallback()
	}
	return normalize(v, true)
}

// NormalizeValue is Normalize for an already decoded value.
func NormalizeValue(v any) model.Result {
	switch val := v.(type) {
	case model.Result:
		return withSlices(val)
	case *model.Result:
		if val == nil {
			return Fallback()
		}
		return withSlices(*val)
	case json.RawMessage:
		return Normalize(val)
	}
	return normalize(v, true)
}

// normalize resolves one level of the response union. A string is parsed at
// most once so a doubly encoded string does not recurse forever.
func normalize(v any, parseString bool) model.Result {
	switch val := v.(type) {
	case map[string]any:
		if summary, ok := val[summaryEnvelope]; ok && summary != nil {
			inner, ok := summary.(map[string]any)
			if !ok {
				return Fallback()
			}
			return decode(inner)
		}
		return decode(val)
	case string:
		if !parseString {
			return Fallback()
		}
		var parsed any
		if err := json.Unmarshal([]byte(val), &parsed); err != nil {
			return Fallback()
		}
		return normalize(parsed, false)
	default:
		return Fallback()
	}
}

// decode reads each field on its own so one mistyped field does not discard
// the rest. A non-string overview is dropped, and list entries that do not
// fit the entry shape are skipped.
func decode(obj map[string]any) model.Result {
	var res model.Result
	if overview, ok := obj["overview"].(string); ok {
		res.Overview = overview
	}
	res.ClausesAbusives = decodeEntries[model.AbusiveClause](obj["clauses_abusives"])
	res.Risks = decodeEntries[model.Risk](obj["risks"])
	res.Recommendations = decodeEntries[model.Recommendation](obj["recommendations"])
	return withSlices(res)
}

func decodeEntries[T any](v any) []T {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			continue
		}
		b, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var entry T
		if err := json.Unmarshal(b, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func withSlices(r model.Result) model.Result {
	if r.ClausesAbusives == nil {
		r.ClausesAbusives = []model.AbusiveClause{}
	}
	if r.Risks == nil {
		r.Risks = []model.Risk{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []model.Recommendation{}
	}
	return r
}
