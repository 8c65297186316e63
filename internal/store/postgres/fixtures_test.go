package postgres

import "github.com/driftworks/quizchain/internal/store"

func chainFixture() store.Chain {
	return store.Chain{
		ID:        "chain-1",
		Email:     "quiz@example.com",
		SecretEnc: "enc",
		URL:       "https://quiz.example.com/start",
		MaxSteps:  20,
	}
}

func stepResultFixture() store.StepResult {
	return store.StepResult{
		ChainID:  "chain-1",
		Step:     1,
		URL:      "https://quiz.example.com/q/1",
		Endpoint: "https://quiz.example.com/submit",
		Category: "tabular",
		Question: "Sum values above 50",
		Answer:   "176",
		Correct:  true,
		NextURL:  "https://quiz.example.com/q/2",
		Attempts: 1,
	}
}

func chainEventFixture() store.ChainEvent {
	return store.ChainEvent{
		ChainID: "chain-1",
		Seq:     1,
		Type:    "STEP_SOLVED",
		Source:  "worker",
		Payload: map[string]any{"step": 1},
	}
}
