package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/querypilot/internal/observability"
)

// LLM is a chat model together with what is needed to account for its calls.
type LLM struct {
	Model  llms.Model
	Name   string
	Logger *observability.Logger
}

func NewLLM(model llms.Model, name string, logger *observability.Logger) *LLM {
	return &LLM{Model: model, Name: name, Logger: logger}
}

// generate makes one model call and logs the transcript and token usage.
func (l *LLM) generate(ctx context.Context, role string, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	resp, err := l.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}
	choice := resp.Choices[0]

	l.Logger.LogLLM(ctx, role, lastText(messages), choice.Content, choice.ToolCalls)
	if prompt, completion, ok := usage(choice.GenerationInfo); ok {
		l.Logger.LogCost(ctx, prompt, completion, l.Name)
	}
	return choice, nil
}

// complete is a single-turn text exchange.
func (l *LLM) complete(ctx context.Context, role, system, input string) (string, error) {
	choice, err := l.generate(ctx, role, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(choice.Content), nil
}

func toolDef(name, description string, parameters map[string]any) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// assistantMessage echoes a model turn back into the conversation.
func assistantMessage(choice *llms.ContentChoice) llms.MessageContent {
	var parts []llms.ContentPart
	if choice.Content != "" {
		parts = append(parts, llms.TextContent{Text: choice.Content})
	}
	for _, tc := range choice.ToolCalls {
		parts = append(parts, tc)
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func toolResponse(tc llms.ToolCall, content string) llms.MessageContent {
	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{
			llms.ToolCallResponse{
				ToolCallID: tc.ID,
				Name:       tc.FunctionCall.Name,
				Content:    content,
			},
		},
	}
}

func lastText(messages []llms.MessageContent) string {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, p := range messages[i].Parts {
			if t, ok := p.(llms.TextContent); ok {
				return t.Text
			}
		}
	}
	return ""
}

// usage reads token counts; providers disagree on the key names.
func usage(info map[string]any) (prompt, completion int, ok bool) {
	p, okP := firstInt(info, "PromptTokens", "InputTokens", "input_tokens")
	c, okC := firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens")
	return p, c, okP || okC
}

func firstInt(info map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v, true
		case int32:
			return int(v), true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}
