package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/plan"
)

// PlanRequest is what the oracle sees on each attempt.
type PlanRequest struct {
	Schema   string
	Question string
	Dialect  string
	// LastError is the reason the previous attempt failed; empty on the first attempt.
	LastError string
	Attempt   int
}

// PlanOracle proposes candidate execution plans. A malformed proposal is
// reported as *plan.MalformedError.
type PlanOracle interface {
	Propose(ctx context.Context, req PlanRequest) (*plan.ExecutionPlan, error)
}

// ValidationRequest carries a candidate plan to the validator.
type ValidationRequest struct {
	Schema   string
	Question string
	Plan     *plan.ExecutionPlan
}

type Verdict struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason"`
}

// PlanValidator critiques a candidate plan.
type PlanValidator interface {
	Validate(ctx context.Context, req ValidationRequest) (Verdict, error)
}

// AcquireRequest configures one acquisition loop.
type AcquireRequest struct {
	Schema           string
	Question         string
	Dialect          string
	MaxAttempts      int
	OracleTimeout    time.Duration
	ValidatorTimeout time.Duration
}

// State is the terminal state of an acquisition loop.
type State string

const (
	StateSucceeded State = "succeeded"
	StateExhausted State = "exhausted"
)

// Attempt results.
const (
	AttemptAccepted       = "accepted"
	AttemptRejected       = "rejected"
	AttemptMalformed      = "malformed"
	AttemptOracleError    = "oracle_error"
	AttemptValidatorError = "validator_error"
)

// AttemptRecord describes one generate/validate cycle.
type AttemptRecord struct {
	Number int
	Result string
	Err    error
}

// Outcome is the result of Acquire. Plan is set only when State is StateSucceeded.
type Outcome struct {
	State     State
	Plan      *plan.ExecutionPlan
	Attempts  []AttemptRecord
	LastError string
}

// Err returns nil on success and an *ExhaustedError otherwise.
func (o Outcome) Err() error {
	if o.State == StateSucceeded {
		return nil
	}
	var last error
	if n := len(o.Attempts); n > 0 {
		last = o.Attempts[n-1].Err
	}
	return &ExhaustedError{Attempts: len(o.Attempts), LastError: o.LastError, Last: last}
}

// RejectedError is a validator verdict of is_valid=false.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "plan rejected by validator: " + e.Reason
}

// ExhaustedError reports that no valid plan was found within the attempt bound.
type ExhaustedError struct {
	Attempts  int
	LastError string
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no valid execution plan after %d attempts: %s", e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Acquire runs the generate/validate cycle until the validator accepts a
// plan or MaxAttempts attempts have failed. Each failure reason is fed back
// to the oracle as LastError on the next attempt.
func Acquire(ctx context.Context, oracle PlanOracle, validator PlanValidator, req AcquireRequest, logger *observability.Logger) Outcome {
	maxAttempts := req.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var out Outcome
	lastError := ""

	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			out.Attempts = append(out.Attempts, AttemptRecord{Number: n, Result: AttemptOracleError, Err: err})
			lastError = err.Error()
			break
		}

		observability.SetProgress(n, maxAttempts)
		candidate, rec := attempt(ctx, oracle, validator, req, n, lastError, logger)
		out.Attempts = append(out.Attempts, rec)
		observability.RecordAttempt(rec.Result)

		if rec.Err == nil {
			logger.LogAttempt(ctx, n, maxAttempts, rec.Result, "")
			out.State = StateSucceeded
			out.Plan = candidate
			out.LastError = ""
			logger.LogOutcome(ctx, string(out.State), n, "")
			observability.RecordAcquisition(string(out.State))
			return out
		}

		lastError = feedback(rec.Err)
		logger.LogAttempt(ctx, n, maxAttempts, rec.Result, lastError)
	}

	out.State = StateExhausted
	out.LastError = lastError
	logger.LogOutcome(ctx, string(out.State), len(out.Attempts), lastError)
	observability.RecordAcquisition(string(out.State))
	return out
}

func attempt(ctx context.Context, oracle PlanOracle, validator PlanValidator, req AcquireRequest, n int, lastError string, logger *observability.Logger) (*plan.ExecutionPlan, AttemptRecord) {
	rec := AttemptRecord{Number: n}

	oracleCtx, cancel := withTimeout(ctx, req.OracleTimeout)
	candidate, err := oracle.Propose(oracleCtx, PlanRequest{
		Schema:    req.Schema,
		Question:  req.Question,
		Dialect:   req.Dialect,
		LastError: lastError,
		Attempt:   n,
	})
	cancel()
	if err != nil {
		var me *plan.MalformedError
		if errors.As(err, &me) {
			rec.Result = AttemptMalformed
		} else {
			rec.Result = AttemptOracleError
			err = fmt.Errorf("plan oracle: %w", err)
		}
		rec.Err = err
		return nil, rec
	}
	if candidate == nil || len(candidate.Steps) == 0 {
		rec.Result = AttemptMalformed
		rec.Err = &plan.MalformedError{Reason: "execution_plan must contain at least one step"}
		return nil, rec
	}

	validatorCtx, cancel := withTimeout(ctx, req.ValidatorTimeout)
	verdict, err := validator.Validate(validatorCtx, ValidationRequest{
		Schema:   req.Schema,
		Question: req.Question,
		Plan:     candidate,
	})
	cancel()
	if err != nil {
		rec.Result = AttemptValidatorError
		rec.Err = fmt.Errorf("plan validator: %w", err)
		return nil, rec
	}

	logger.LogValidation(ctx, n, verdict.IsValid, verdict.Reason)
	if !verdict.IsValid {
		rec.Result = AttemptRejected
		rec.Err = &RejectedError{Reason: verdict.Reason}
		return nil, rec
	}

	rec.Result = AttemptAccepted
	return candidate, rec
}

// feedback turns an attempt failure into the corrective text shown to the oracle.
func feedback(err error) string {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	var me *plan.MalformedError
	if errors.As(err, &me) {
		return "The previous response was not a valid execution plan: " + me.Reason
	}
	return err.Error()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
