package chain

// The prompts are data, not code structure: every LLM-facing phrase
// used by the pipeline lives here under one name.

const relevanceGraderPrompt = `You are a grader assessing relevance of a retrieved document to a user question.
If the document contains keyword(s) or semantic meaning related to the user question, grade it as relevant.
It does not need to be a stringent test. The goal is to filter out erroneous retrievals.
Respond with a JSON object {"binary_score": "yes"} or {"binary_score": "no"} and nothing else.

Retrieved document:

%s

User question: %s`

const answerGraderPrompt = `You are a grader assessing whether an answer addresses / resolves a question.
'yes' means that the answer resolves the question.
Respond with a JSON object {"binary_score": "yes"} or {"binary_score": "no"} and nothing else.

User question:

%s

Answer: %s`

const groundingGraderPrompt = `You are a grader assessing whether an answer is grounded in / supported by a set of retrieved facts.
'yes' means that the answer is grounded in / supported by the set of facts.
Respond with a JSON object {"binary_score": "yes"} or {"binary_score": "no"} and nothing else.

Set of facts:

%s

Answer: %s`

const rewriterPrompt = `You are a question re-writer that converts an input question to a better version that is optimized for full-text log retrieval.
Look at the input and try to reason about the underlying semantic intent / meaning.
Respond with a JSON object {"improved_question": "..."} and nothing else.

Here is the initial question:

%s`

const answererPrompt = `Based on the user's question and the evidence provided, determine the appropriate response.

USER QUESTION: %s

LOG CONTEXT:
%s

STACK TRACES:
%s

RELATED CODE:
%s

Please provide:
1. A direct answer to the user's question, if possible (e.g. confirmation of an event or status). If the logs contain information that directly answers the question, state it clearly.
2. A concise description of what these logs represent, suitable for a business user.
3. Technical context from the codebase, if applicable (relevant files, functions, or code paths).
4. Exact IDs affected by the error, if applicable.

Use only the evidence above; do not invent events, IDs or code that are absent from it.`

const summarizerPrompt = `You are a log analysis expert. Analyze the following logs and provide a summary.
Focus on:
1. Key events and patterns
2. Error and warning counts
3. Any unusual or important occurrences
4. Stack traces (preserve them exactly as they appear)

Logs to analyze:
%s

Respond with a JSON object in exactly this format, nothing else:
{"summary": "...", "key_events": ["..."], "error_count": 0, "warning_count": 0, "stack_traces": ["..."]}`
