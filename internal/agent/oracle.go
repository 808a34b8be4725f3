package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/querypilot/internal/dialect"
	"github.com/rahul/querypilot/internal/plan"
	"github.com/rahul/querypilot/internal/tools"
)

const proposePlanTool = "propose_execution_plan"

// LLMOracle asks a chat model for an execution plan. The model may inspect
// the schema through the registry tools before proposing.
type LLMOracle struct {
	*LLM
	Prompts  *PromptManager
	Registry *tools.Registry
	// MaxRounds bounds the tool-calling exchanges per proposal.
	MaxRounds int
}

func NewLLMOracle(llm *LLM, prompts *PromptManager, registry *tools.Registry) *LLMOracle {
	return &LLMOracle{
		LLM:       llm,
		Prompts:   prompts,
		Registry:  registry,
		MaxRounds: 5,
	}
}

func (o *LLMOracle) Propose(ctx context.Context, req PlanRequest) (*plan.ExecutionPlan, error) {
	system, err := o.Prompts.Render(PromptPlanner, map[string]any{
		"placeholder_example": "{{department_ids}}",
		"dialect_guidance":    dialect.Guidance(req.Dialect),
		"last_error":          req.LastError,
		"schema":              req.Schema,
		"question":            req.Question,
	})
	if err != nil {
		return nil, err
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Question),
	}

	llmTools := []llms.Tool{toolDef(proposePlanTool, "Submit the execution plan that answers the question.", planSchema)}
	for _, t := range o.Registry.Sorted() {
		llmTools = append(llmTools, toolDef(t.Name(), t.Description(), t.Parameters()))
	}

	rounds := o.MaxRounds
	if rounds < 1 {
		rounds = 1
	}
	for i := 0; i < rounds; i++ {
		choice, err := o.generate(ctx, "planner", messages, llms.WithTools(llmTools))
		if err != nil {
			return nil, err
		}

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall != nil && tc.FunctionCall.Name == proposePlanTool {
				return plan.Parse([]byte(tc.FunctionCall.Arguments))
			}
		}

		if len(choice.ToolCalls) == 0 {
			if choice.Content == "" {
				return nil, &plan.MalformedError{Reason: "empty response from planner"}
			}
			return plan.Parse([]byte(choice.Content))
		}

		messages = append(messages, assistantMessage(choice))
		for _, tc := range choice.ToolCalls {
			messages = append(messages, toolResponse(tc, o.runTool(ctx, i, tc)))
		}
	}

	return nil, &plan.MalformedError{Reason: fmt.Sprintf("no plan proposed within %d tool rounds", rounds)}
}

func (o *LLMOracle) runTool(ctx context.Context, round int, tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return "Error: empty tool call"
	}
	tool := o.Registry.Get(tc.FunctionCall.Name)
	if tool == nil {
		return fmt.Sprintf("Error: Tool %s not found", tc.FunctionCall.Name)
	}

	log.Printf("[Planner %d] Executing tool %s with args: %s", round+1, tool.Name(), tc.FunctionCall.Arguments)
	res, err := tool.Execute(ctx, tc.FunctionCall.Arguments)
	if err != nil {
		res = fmt.Sprintf("Error: %v", err)
	}
	return res
}

var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"execution_plan": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"step":        map[string]any{"type": "integer", "description": "1-based execution order"},
					"query_id":    map[string]any{"type": "string", "description": "Unique id other steps depend on"},
					"description": map[string]any{"type": "string"},
					"sql":         map[string]any{"type": "string", "description": "SQL text, may contain {{name}} placeholders"},
					"depends_on": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"table_used": map[string]any{"type": "string"},
				},
				"required": []string{"step", "query_id", "description", "sql", "depends_on", "table_used"},
			},
		},
		"tables_used":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"total_steps":      map[string]any{"type": "integer"},
		"has_dependencies": map[string]any{"type": "boolean"},
	},
	"required": []string{"execution_plan", "tables_used", "total_steps", "has_dependencies"},
}
