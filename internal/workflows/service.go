package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
)

// deadlineBuffer is shaved off the configured chain timeout so the
// workflow finishes cleanly before the caller's own deadline.
const deadlineBuffer = 10 * time.Second

type Service struct {
	client       client.Client
	taskQueue    string
	chainTimeout time.Duration
}

func NewService(client client.Client, taskQueue string, chainTimeout time.Duration) *Service {
	if taskQueue == "" {
		taskQueue = "quizchain-chains"
	}
	if chainTimeout <= 0 {
		chainTimeout = 180 * time.Second
	}
	return &Service{client: client, taskQueue: taskQueue, chainTimeout: chainTimeout}
}

func (s *Service) StartChain(ctx context.Context, chainID string, startURL string, maxSteps int) error {
	runTimeout := s.chainTimeout - deadlineBuffer
	if runTimeout <= 0 {
		runTimeout = s.chainTimeout
	}
	options := client.StartWorkflowOptions{
		ID:                 workflowID(chainID),
		TaskQueue:          s.taskQueue,
		WorkflowRunTimeout: runTimeout,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, ChainWorkflow, ChainInput{
		ChainID:  chainID,
		StartURL: startURL,
		MaxSteps: maxSteps,
	})
	return err
}

func (s *Service) CancelChain(ctx context.Context, chainID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(chainID), "")
}

func workflowID(chainID string) string {
	return fmt.Sprintf("chain:%s", chainID)
}
