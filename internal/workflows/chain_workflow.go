package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

type ChainInput struct {
	ChainID  string
	StartURL string
	MaxSteps int
}

type ChainResult struct {
	Status           string
	CompletionReason string
	StepsCompleted   int
}

// ChainWorkflow drives one quiz chain: solve the step at the current
// URL, follow the next URL the grader hands back, and stop on chain
// end, a fatal step, or the step limit. The run timeout set at start
// enforces the overall deadline.
func ChainWorkflow(ctx workflow.Context, input ChainInput) (ChainResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	maxSteps := input.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 20
	}

	currentURL := input.StartURL
	stepsCompleted := 0
	// Running out of steps is a normal end for a long chain, not a failure.
	result := ChainResult{Status: "completed", CompletionReason: "step_limit"}

	for step := 1; step <= maxSteps; step++ {
		var output StepOutput
		err := workflow.ExecuteActivity(ctx, "SolveStep", StepInput{
			ChainID: input.ChainID,
			Step:    step,
			URL:     currentURL,
		}).Get(ctx, &output)
		if err != nil {
			logger.Error("step activity failed", "step", step, "error", err)
			failureInput := ChainFailureInput{
				ChainID: input.ChainID,
				Step:    step,
				Error:   err.Error(),
			}
			if failureErr := workflow.ExecuteActivity(ctx, "RecordChainFailure", failureInput).Get(ctx, nil); failureErr != nil {
				logger.Error("failed to persist chain failure", "error", failureErr)
			}
			result = ChainResult{Status: "failed", CompletionReason: "activity_error", StepsCompleted: stepsCompleted}
			break
		}

		stepsCompleted++
		if output.Fatal {
			result = ChainResult{Status: "failed", CompletionReason: output.Reason, StepsCompleted: stepsCompleted}
			break
		}
		if output.NextURL == "" {
			result = ChainResult{Status: "completed", CompletionReason: "chain_end", StepsCompleted: stepsCompleted}
			break
		}
		currentURL = output.NextURL
		result.StepsCompleted = stepsCompleted
	}

	completeInput := CompleteChainInput{
		ChainID:          input.ChainID,
		Status:           result.Status,
		CompletionReason: result.CompletionReason,
		StepsCompleted:   result.StepsCompleted,
	}
	if err := workflow.ExecuteActivity(ctx, "CompleteChain", completeInput).Get(ctx, nil); err != nil {
		logger.Error("failed to record chain completion", "error", err)
	}
	return result, nil
}
