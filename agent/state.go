package agent

import "github.com/avidal-labs/docintel/llm"

// State enumerates the control-loop positions. The loop starts in
// StateDecide and always reaches StateEnd within the rewrite budget.
type State int

const (
	StateDecide State = iota
	StateRetrieve
	StateGrade
	StateRewrite
	StateAnswer
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateDecide:
		return "decide"
	case StateRetrieve:
		return "retrieve"
	case StateGrade:
		return "grade"
	case StateRewrite:
		return "rewrite"
	case StateAnswer:
		return "answer"
	case StateEnd:
		return "end"
	default:
		return "unknown"
	}
}

// loopState is the transient per-invocation state: it exists for one Ask
// call and is discarded afterwards.
type loopState struct {
	question string
	messages []llm.Message

	pendingCall llm.ToolCall
	context     string
	evidence    []Evidence
	rewrites    int
}
