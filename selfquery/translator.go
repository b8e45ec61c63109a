package selfquery

import "strings"

// Translate lowers a StructuredQuery into the index's bool-query DSL.
//
// The text phrase becomes a clause on the msg field under bool.must:
// a match clause for multi-word phrases, a term clause for single
// tokens (exact identifiers such as order numbers must not be
// analyzed). Field filters go under bool.filter so they do not
// contribute to scoring. A fully empty translation becomes match_all.
func Translate(q StructuredQuery) map[string]any {
	boolPart := map[string]any{}

	text := strings.TrimSpace(q.Text)
	if text != "" && text != NoFilter {
		if strings.ContainsAny(text, " \t\n") {
			boolPart["must"] = map[string]any{"match": map[string]any{"msg": text}}
		} else {
			boolPart["must"] = map[string]any{"term": map[string]any{"msg": text}}
		}
	}

	if q.Filter != nil {
		if translated := translateExpr(q.Filter); translated != nil {
			// A top-level and(...) unwraps into the filter list
			// directly; anything else is wrapped as a single entry.
			if inner, ok := translated["bool"].(map[string]any); ok {
				if must, ok := inner["must"]; ok {
					boolPart["filter"] = must
				} else {
					boolPart["filter"] = []any{translated}
				}
			} else {
				boolPart["filter"] = []any{translated}
			}
		}
	}

	if len(boolPart) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"bool": boolPart}
}

// translateExpr lowers one expression node. It returns nil for leaves
// carrying the NO_FILTER sentinel and for operators whose children all
// dropped.
func translateExpr(e Expr) map[string]any {
	switch v := e.(type) {
	case Comparison:
		if v.Value == NoFilter {
			return nil
		}
		if v.Op == CompEQ {
			return map[string]any{"term": map[string]any{v.Attribute: v.Value}}
		}
		return map[string]any{
			"range": map[string]any{
				v.Attribute: map[string]any{string(v.Op): v.Value},
			},
		}
	case And:
		return translateOperator("must", v)
	case Or:
		return translateOperator("should", v)
	case Not:
		return translateOperator("must_not", v)
	default:
		return nil
	}
}

func translateOperator(occur string, children []Expr) map[string]any {
	args := make([]any, 0, len(children))
	for _, child := range children {
		if translated := translateExpr(child); translated != nil {
			args = append(args, translated)
		}
	}
	if len(args) == 0 {
		return nil
	}
	return map[string]any{"bool": map[string]any{occur: args}}
}
