package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/querypilot/internal/plan"
)

const verdictTool = "report_verdict"

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_valid": map[string]any{"type": "boolean"},
		"reason":   map[string]any{"type": "string", "description": "Why the plan is or is not correct"},
	},
	"required": []string{"is_valid", "reason"},
}

// LLMValidator asks a chat model to review a candidate plan.
type LLMValidator struct {
	*LLM
	Prompts *PromptManager
}

func NewLLMValidator(llm *LLM, prompts *PromptManager) *LLMValidator {
	return &LLMValidator{LLM: llm, Prompts: prompts}
}

// Validate returns an error only when the model could not be reached. A reply
// that cannot be read as a verdict is an invalid verdict.
func (v *LLMValidator) Validate(ctx context.Context, req ValidationRequest) (Verdict, error) {
	system, err := v.Prompts.Render(PromptValidator, map[string]any{
		"schema":       req.Schema,
		"question":     req.Question,
		"tables":       req.Plan.FormattedTables(),
		"sql":          req.Plan.FormattedSQL(),
		"dependencies": req.Plan.DependencySummary(),
	})
	if err != nil {
		return Verdict{}, err
	}

	choice, err := v.generate(ctx, "validator", []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, "Review the execution plan."),
	}, llms.WithTools([]llms.Tool{toolDef(verdictTool, "Report whether the execution plan is correct.", verdictSchema)}))
	if err != nil {
		return Verdict{}, err
	}

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == verdictTool {
			return ParseVerdict(tc.FunctionCall.Arguments), nil
		}
	}
	return ParseVerdict(choice.Content), nil
}

// ParseVerdict reads {"is_valid": bool, "reason": string}, tolerating code
// fences. Anything else is an invalid verdict explaining the parse failure.
func ParseVerdict(raw string) Verdict {
	body := plan.Unfence([]byte(raw))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Verdict{Reason: "Validator response could not be parsed as JSON: " + err.Error()}
	}
	rawValid, ok := fields["is_valid"]
	if !ok {
		return Verdict{Reason: "Validator response is missing the 'is_valid' key"}
	}

	var verdict Verdict
	if err := json.Unmarshal(rawValid, &verdict.IsValid); err != nil {
		return Verdict{Reason: "Validator response has a non-boolean 'is_valid'"}
	}
	// A structured reason is kept as its JSON text so the oracle still sees it.
	if rawReason, ok := fields["reason"]; ok && string(rawReason) != "null" {
		if err := json.Unmarshal(rawReason, &verdict.Reason); err != nil {
			verdict.Reason = string(rawReason)
		}
	}
	verdict.Reason = strings.TrimSpace(verdict.Reason)
	if !verdict.IsValid && verdict.Reason == "" {
		verdict.Reason = "Validator rejected the plan without a reason"
	}
	return verdict
}
