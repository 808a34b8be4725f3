package agent

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/querypilot/internal/executor"
	"github.com/rahul/querypilot/internal/governance"
	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/plan"
	"github.com/rahul/querypilot/internal/runner"
	"github.com/rahul/querypilot/internal/store"
	"github.com/rahul/querypilot/pkg/config"
)

func newTestPipeline(t *testing.T, oracle PlanOracle, validator PlanValidator, events *bytes.Buffer) (*Pipeline, *store.HistoryStore) {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(context.Background(), config.DatabaseConfig{Type: "sqlite", Path: filepath.Join(dir, "enterprise.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.DB.Exec(`
		CREATE TABLE departments (department_id INTEGER PRIMARY KEY, name TEXT, budget INTEGER);
		CREATE TABLE employees (id INTEGER PRIMARY KEY, name TEXT, department_id INTEGER);
		INSERT INTO departments VALUES (7, 'Research', 900), (8, 'Sales', 300);
		INSERT INTO employees VALUES (1, 'Ada', 7), (2, 'Linus', 7), (3, 'Grace', 8);
	`)
	require.NoError(t, err)

	history, err := store.NewHistoryStore(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	logger := observability.NewLoggerTo(events, "")
	ex := executor.New(governance.NewReadOnlyPolicy(), db.Style)

	return &Pipeline{
		Store:     db,
		Runner:    runner.New(ex, db.Dialect, 5*time.Second, logger),
		Oracle:    oracle,
		Validator: validator,
		History:   history,
		Planner: config.PlannerConfig{
			MaxAttempts:      2,
			OracleTimeout:    config.Duration{Duration: time.Second},
			ValidatorTimeout: config.Duration{Duration: time.Second},
			HistoryMessages:  6,
		},
		Logger: logger,
	}, history
}

// staticRefiner answers with a fixed question and remembers the history it was given.
type staticRefiner struct {
	refined string
	seen    [][]llms.MessageContent
}

func (s *staticRefiner) Refine(ctx context.Context, schema, question string, history []llms.MessageContent) (string, error) {
	s.seen = append(s.seen, history)
	if s.refined == "" {
		return question, nil
	}
	return s.refined, nil
}

func TestPipeline_Ask(t *testing.T) {
	var seenSchema, seenQuestion string
	oracle := oracleFunc(func(ctx context.Context, req PlanRequest) (*plan.ExecutionPlan, error) {
		seenSchema, seenQuestion = req.Schema, req.Question
		return plan.Parse([]byte(validPlanJSON))
	})
	validator := validatorFunc(func(ctx context.Context, req ValidationRequest) (Verdict, error) {
		return Verdict{IsValid: true, Reason: "ok"}, nil
	})

	var events bytes.Buffer
	p, history := newTestPipeline(t, oracle, validator, &events)
	p.Refiner = &staticRefiner{refined: "Names of employees in the department with the largest budget"}

	ans, err := p.Ask(context.Background(), "chat-1", "who is in the biggest dept?")
	require.NoError(t, err)

	assert.Contains(t, seenSchema, "Table departments:")
	assert.Equal(t, "Names of employees in the department with the largest budget", seenQuestion)

	require.Len(t, ans.Outputs, 2)
	assert.Equal(t, runner.StatusOK, ans.Outputs[1].Status)
	assert.Len(t, ans.Outputs[1].RawResults, 2)
	assert.Contains(t, ans.Text, "Step 2 - Its staff: (2 records)")
	assert.NotEmpty(t, ans.TaskID)
	assert.Contains(t, events.String(), `"task_id":"`+ans.TaskID+`"`)

	runs, err := history.RecentRuns(context.Background(), "chat-1", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "succeeded", runs[0].Status)
	assert.Equal(t, 1, runs[0].Attempts)
	assert.Equal(t, 2, runs[0].Steps)

	role, _, _ := observability.GetStatus()
	assert.Equal(t, observability.RoleIdle, role)
}

func TestPipeline_AskExhaustedDoesNotExecute(t *testing.T) {
	oracle := oracleFunc(func(ctx context.Context, req PlanRequest) (*plan.ExecutionPlan, error) {
		return plan.Parse([]byte(validPlanJSON))
	})
	validator := validatorFunc(func(ctx context.Context, req ValidationRequest) (Verdict, error) {
		return Verdict{IsValid: false, Reason: "should rank by salary"}, nil
	})

	var events bytes.Buffer
	p, history := newTestPipeline(t, oracle, validator, &events)

	ans, err := p.Ask(context.Background(), "chat-2", "top earners?")
	assert.Nil(t, ans)

	var ee *ExhaustedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.Attempts)
	assert.Equal(t, "should rank by salary", ee.LastError)

	assert.NotContains(t, events.String(), `"type":"step"`)
	assert.Contains(t, events.String(), `"type":"plan_outcome"`)

	runs, err := history.RecentRuns(context.Background(), "chat-2", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "exhausted", runs[0].Status)
	assert.Equal(t, 0, runs[0].Steps)
	assert.Equal(t, "should rank by salary", runs[0].LastError)
}

func TestPipeline_AskGivesRefinerChatHistory(t *testing.T) {
	oracle := oracleFunc(func(ctx context.Context, req PlanRequest) (*plan.ExecutionPlan, error) {
		return plan.Parse([]byte(validPlanJSON))
	})
	validator := validatorFunc(func(ctx context.Context, req ValidationRequest) (Verdict, error) {
		return Verdict{IsValid: true}, nil
	})

	var events bytes.Buffer
	p, _ := newTestPipeline(t, oracle, validator, &events)
	refiner := &staticRefiner{}
	p.Refiner = refiner

	_, err := p.Ask(context.Background(), "chat-3", "who works in the biggest department?")
	require.NoError(t, err)
	_, err = p.Ask(context.Background(), "chat-3", "and how many are there?")
	require.NoError(t, err)
	_, err = p.Ask(context.Background(), "chat-4", "unrelated")
	require.NoError(t, err)

	require.Len(t, refiner.seen, 3)
	assert.Empty(t, refiner.seen[0])

	second := refiner.seen[1]
	require.Len(t, second, 2)
	assert.Equal(t, llms.ChatMessageTypeHuman, second[0].Role)
	assert.Equal(t, "who works in the biggest department?", second[0].Parts[0].(llms.TextContent).Text)
	assert.Equal(t, llms.ChatMessageTypeAI, second[1].Role)
	assert.Contains(t, second[1].Parts[0].(llms.TextContent).Text, "Step 2 - Its staff")

	assert.Empty(t, refiner.seen[2], "history is scoped to the chat")
}

func TestPipeline_RunPlan(t *testing.T) {
	var events bytes.Buffer
	p, _ := newTestPipeline(t, nil, nil, &events)

	ep, err := plan.Parse([]byte(validPlanJSON))
	require.NoError(t, err)

	outputs := p.RunPlan(context.Background(), ep)
	require.Len(t, outputs, 2)
	assert.Equal(t, "Ada", outputs[1].RawResults[0]["name"])
}
