// Package selfquery turns free-form operator questions into structured
// queries for the log index: an LLM-backed constructor produces a text
// phrase plus an abstract filter expression, and a translator lowers
// the expression to the index's bool-query DSL.
package selfquery

// NoFilter is the sentinel value meaning "ignore this leaf". The
// constructor's model emits it for clauses it decided not to use.
const NoFilter = "NO_FILTER"

// Comparator is a comparison operator in a filter leaf.
type Comparator string

const (
	CompEQ  Comparator = "eq"
	CompLT  Comparator = "lt"
	CompLTE Comparator = "lte"
	CompGT  Comparator = "gt"
	CompGTE Comparator = "gte"
)

// Expr is a node in a filter expression tree: And, Or, Not or
// Comparison.
type Expr interface {
	expr()
}

// Comparison is a single attribute comparison.
type Comparison struct {
	Attribute string
	Op        Comparator
	Value     string
}

// And requires all children to match.
type And []Expr

// Or requires at least one child to match. An Or with zero arguments
// is illegal; the parser rejects it.
type Or []Expr

// Not requires all children to not match.
type Not []Expr

func (Comparison) expr() {}
func (And) expr()        {}
func (Or) expr()         {}
func (Not) expr()        {}

// StructuredQuery is the tuple consumed by Translate: an optional
// free-text phrase matched against the log message body and a filter
// tree. A nil Filter means match-all.
type StructuredQuery struct {
	Text   string
	Filter Expr
}
