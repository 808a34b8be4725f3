package agent

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/querypilot/internal/runner"
)

// LLMRefiner rewrites a loose question into a precise one.
type LLMRefiner struct {
	*LLM
	Prompts *PromptManager
}

func NewLLMRefiner(llm *LLM, prompts *PromptManager) *LLMRefiner {
	return &LLMRefiner{LLM: llm, Prompts: prompts}
}

// Refine returns the original question when the model answers with nothing.
// Earlier turns of the chat go between the system prompt and the question so
// follow-ups like "and last year?" can be resolved.
func (r *LLMRefiner) Refine(ctx context.Context, schema, question string, history []llms.MessageContent) (string, error) {
	system, err := r.Prompts.Render(PromptRefiner, map[string]any{
		"schema":       schema,
		"question":     question,
		"conversation": len(history) > 0,
	})
	if err != nil {
		return "", err
	}

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	messages = append(messages, history...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))

	choice, err := r.generate(ctx, "refiner", messages)
	if err != nil {
		return "", err
	}
	refined := strings.TrimSpace(choice.Content)
	if refined == "" {
		return question, nil
	}
	return refined, nil
}

// LLMSynthesizer writes a prose answer from the step outputs.
type LLMSynthesizer struct {
	*LLM
	Prompts *PromptManager
}

func NewLLMSynthesizer(llm *LLM, prompts *PromptManager) *LLMSynthesizer {
	return &LLMSynthesizer{LLM: llm, Prompts: prompts}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, question string, outputs []runner.OutputRecord) (string, error) {
	system, err := s.Prompts.Render(PromptSynthesizer, map[string]any{
		"question": question,
		"results":  FormatOutputs(outputs),
	})
	if err != nil {
		return "", err
	}
	return s.complete(ctx, "synthesizer", system, question)
}

// FormatOutputs joins the formatted text of every step.
func FormatOutputs(outputs []runner.OutputRecord) string {
	parts := make([]string, 0, len(outputs))
	for _, o := range outputs {
		parts = append(parts, o.FormattedText)
	}
	return strings.Join(parts, "\n\n")
}
