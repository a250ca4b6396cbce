// Package controller implements C8: the Plan-Execute-Replan state machine
// that drives an LLM through a bounded deliberation loop invoking the
// catalog, SQL, and knowledge tools. Grounded on the teacher's
// pkg/agent/controller iteration-loop shape (pkg/agent/controller/iterating.go)
// for the tool-calling sub-agent, and on pkg/agent/llm_client.go's
// tagged-union Chunk pattern for the Act sum type.
package controller

// ActKind discriminates the two variants of Act.
type ActKind int

const (
	ActKindResponse ActKind = iota
	ActKindPlan
)

// Act is the replanner's tagged-union result: either a terminal Response
// or a replacement Plan, per spec.md §4.9/§9 ("Planner/Replanner as sum
// types"). The kind field is unexported so only this package's constructors can
// produce a valid Act — callers switch on Kind().
type Act struct {
	kind     ActKind
	response string
	steps    []string
}

// Kind reports which variant this Act holds.
func (a Act) Kind() ActKind { return a.kind }

// Response returns the terminal answer text; valid only when Kind() == ActKindResponse.
func (a Act) Response() string { return a.response }

// Steps returns the replacement plan; valid only when Kind() == ActKindPlan.
func (a Act) Steps() []string { return a.steps }

// NewResponseAct constructs a terminal Response act.
func NewResponseAct(text string) Act {
	return Act{kind: ActKindResponse, response: text}
}

// NewPlanAct constructs a replacement Plan act.
func NewPlanAct(steps []string) Act {
	return Act{kind: ActKindPlan, steps: steps}
}

// Plan is the planner's structured output, spec.md §4.7.
type Plan struct {
	Steps []string `json:"steps"`
}

// PastStep records one completed (or failed) executor step, spec.md §4.8.
type PastStep struct {
	Task   string
	Result string
}
