package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/plan"
	"github.com/rahul/querypilot/internal/runner"
	"github.com/rahul/querypilot/internal/store"
	"github.com/rahul/querypilot/pkg/config"
)

// Refiner sharpens a question before planning, using earlier chat turns as context.
type Refiner interface {
	Refine(ctx context.Context, schema, question string, history []llms.MessageContent) (string, error)
}

// Synthesizer turns step outputs into a prose answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, outputs []runner.OutputRecord) (string, error)
}

// HistoryStore records finished questions and replays a chat's recent messages.
type HistoryStore interface {
	AddMessage(chatID string, role string, content string) error
	GetHistory(chatID string, limit int) ([]llms.MessageContent, error)
	RecordRun(ctx context.Context, r store.Run) error
}

// Answer is everything produced for one question.
type Answer struct {
	TaskID   string
	Question string
	Refined  string
	Plan     *plan.ExecutionPlan
	Attempts []AttemptRecord
	Outputs  []runner.OutputRecord
	Text     string
}

// Pipeline answers questions: describe, refine, acquire, run, synthesize.
// Refiner, Synthesizer and History are optional.
type Pipeline struct {
	Store       *store.Database
	Runner      *runner.Runner
	Oracle      PlanOracle
	Validator   PlanValidator
	Refiner     Refiner
	Synthesizer Synthesizer
	History     HistoryStore
	Planner     config.PlannerConfig
	Logger      *observability.Logger
}

// Ask answers one question. When no valid plan is found the error is an
// *ExhaustedError and the database is not touched.
func (p *Pipeline) Ask(ctx context.Context, chatID, question string) (*Answer, error) {
	taskID := uuid.NewString()
	ctx = observability.WithIDs(ctx, chatID, taskID)

	observability.SetStatus(observability.RolePlanning, question)
	defer observability.SetStatus(observability.RoleIdle, "")

	schema, err := p.Store.Describe(ctx)
	if err != nil {
		return nil, err
	}
	schemaText := schema.Detail()

	ans := &Answer{TaskID: taskID, Question: question, Refined: question}
	if p.Refiner != nil {
		refined, err := p.Refiner.Refine(ctx, schemaText, question, p.history(chatID))
		if err != nil {
			log.Printf("Warning: question refinement failed, using original question: %v", err)
		} else {
			ans.Refined = refined
		}
	}

	outcome := Acquire(ctx, p.Oracle, p.Validator, AcquireRequest{
		Schema:           schemaText,
		Question:         ans.Refined,
		Dialect:          p.Store.Dialect,
		MaxAttempts:      p.Planner.MaxAttempts,
		OracleTimeout:    p.Planner.OracleTimeout.Duration,
		ValidatorTimeout: p.Planner.ValidatorTimeout.Duration,
	}, p.Logger)
	ans.Attempts = outcome.Attempts

	if outcome.State != StateSucceeded {
		err := outcome.Err()
		p.record(ctx, chatID, ans, string(outcome.State), outcome.LastError, fmt.Sprintf("Sorry, I could not build a valid query plan: %s", outcome.LastError))
		return nil, err
	}
	ans.Plan = outcome.Plan

	observability.SetStatus(observability.RoleExecuting, question)
	ans.Outputs = p.Runner.Run(ctx, p.Store.DB, outcome.Plan)

	ans.Text = FormatOutputs(ans.Outputs)
	if p.Synthesizer != nil {
		text, err := p.Synthesizer.Synthesize(ctx, question, ans.Outputs)
		if err != nil {
			log.Printf("Warning: answer synthesis failed, returning step outputs: %v", err)
		} else if text != "" {
			ans.Text = text
		}
	}

	p.record(ctx, chatID, ans, string(outcome.State), "", ans.Text)
	return ans, nil
}

// RunPlan executes a plan supplied by the caller, skipping acquisition.
func (p *Pipeline) RunPlan(ctx context.Context, ep *plan.ExecutionPlan) []runner.OutputRecord {
	ctx = observability.WithIDs(ctx, observability.ChatID(ctx), uuid.NewString())

	observability.SetStatus(observability.RoleExecuting, fmt.Sprintf("%d step plan", len(ep.Steps)))
	defer observability.SetStatus(observability.RoleIdle, "")

	return p.Runner.Run(ctx, p.Store.DB, ep)
}

// history loads the chat's latest messages; failures only cost context.
func (p *Pipeline) history(chatID string) []llms.MessageContent {
	if p.History == nil || p.Planner.HistoryMessages <= 0 {
		return nil
	}
	msgs, err := p.History.GetHistory(chatID, p.Planner.HistoryMessages)
	if err != nil {
		log.Printf("Warning: failed to load chat history: %v", err)
		return nil
	}
	return msgs
}

func (p *Pipeline) record(ctx context.Context, chatID string, ans *Answer, status, lastError, reply string) {
	if p.History == nil {
		return
	}
	if err := p.History.AddMessage(chatID, "human", ans.Question); err != nil {
		log.Printf("Warning: failed to save message: %v", err)
	}
	if err := p.History.AddMessage(chatID, "ai", reply); err != nil {
		log.Printf("Warning: failed to save message: %v", err)
	}
	err := p.History.RecordRun(ctx, store.Run{
		TaskID:    ans.TaskID,
		ChatID:    chatID,
		Question:  ans.Question,
		Status:    status,
		Attempts:  len(ans.Attempts),
		LastError: lastError,
		Steps:     len(ans.Outputs),
	})
	if err != nil {
		log.Printf("Warning: failed to record run: %v", err)
	}
}
