// Package pipeline implements the retrieval-augmented reasoning
// engine: an explicit state machine that retrieves evidence, grades
// it, rewrites the question or regenerates the answer within bounded
// attempt budgets, and reports progress over the chat transport.
package pipeline

import (
	"github.com/busops/logsleuth/chain"
	"github.com/busops/logsleuth/retriever"
)

// Stage identifies one state of the pipeline state machine.
type Stage string

const (
	StageRetrieve    Stage = "retrieve"
	StageGradeDocs   Stage = "grade_docs"
	StageRewrite     Stage = "rewrite"
	StageGenerate    Stage = "generate"
	StageGradeAnswer Stage = "grade_answer"
	StageDone        Stage = "done"
	StageGiveUp      Stage = "give_up"
)

// Terminal reports whether the stage ends the pipeline.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageGiveUp
}

// State is the record threaded through the state machine. One State
// belongs to exactly one operator message; stages mutate it in turn
// and nothing else touches it.
type State struct {
	RunID  string
	ChatID int64

	// Question is the current, possibly rewritten, query text.
	// OriginalQuestion keeps the operator's wording for grading.
	Question         string
	OriginalQuestion string

	RewriteBudget    int
	RegenerateBudget int

	Documents   []retriever.Document
	CodeDocs    []retriever.Document
	StackTraces []string
	Generation  string

	LastAnswerVerdict    chain.Verdict
	LastGroundingVerdict chain.Verdict
}
