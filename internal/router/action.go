package router

import "github.com/docchat/docchat/internal/retrieval"

type ActionType string

const (
	ActionAnswer          ActionType = "answer"
	ActionChitchat        ActionType = "chitchat"
	ActionInvokeTool      ActionType = "invoke_tool"
	ActionAskForParameter ActionType = "ask_for_parameter"
	ActionConfirmFuzzy    ActionType = "confirm_fuzzy"
	ActionChooseSource    ActionType = "choose_source"
)

// Action is the routing decision for one user turn. Exactly one of the
// payload fields is meaningful depending on Type.
type Action struct {
	Type         ActionType
	Verdict      *retrieval.Verdict
	Tool         *Tool
	Args         map[string]string
	MissingParam string
}

func Answer(verdict *retrieval.Verdict) *Action {
	return &Action{Type: ActionAnswer, Verdict: verdict}
}

func Chitchat() *Action {
	return &Action{Type: ActionChitchat}
}

func InvokeTool(tool *Tool, args map[string]string) *Action {
	return &Action{Type: ActionInvokeTool, Tool: tool, Args: args}
}

func AskForParameter(tool *Tool, args map[string]string, missing string) *Action {
	return &Action{Type: ActionAskForParameter, Tool: tool, Args: args, MissingParam: missing}
}

func ConfirmFuzzy(verdict *retrieval.Verdict) *Action {
	return &Action{Type: ActionConfirmFuzzy, Verdict: verdict}
}

func ChooseSource(verdict *retrieval.Verdict) *Action {
	return &Action{Type: ActionChooseSource, Verdict: verdict}
}
