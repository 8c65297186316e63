package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Verdict is the judge's response to one submission attempt. NextURL may be
// present even when Correct is false; its presence, not correctness, decides
// whether the chain continues.
type Verdict struct {
	Correct bool
	NextURL string
	Reason  string
}

// Submitter posts answers to quiz submission endpoints on behalf of one
// caller identity. It never retries; retry policy belongs to the
// orchestrator.
type Submitter struct {
	email  string
	secret string
	client *http.Client
}

func NewSubmitter(email string, secret string) *Submitter {
	return &Submitter{
		email:  email,
		secret: secret,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type submissionBody struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
	Answer Answer `json:"answer"`
}

type verdictBody struct {
	Correct bool   `json:"correct"`
	URL     string `json:"url"`
	Reason  string `json:"reason"`
}

// Submit posts the answer and folds every failure mode into the Verdict: a
// non-200 status or a transport error becomes an incorrect verdict whose
// Reason carries the detail, with no continuation URL.
func (s *Submitter) Submit(ctx context.Context, endpoint string, quizURL string, answer Answer) Verdict {
	payload, err := json.Marshal(submissionBody{
		Email:  s.email,
		Secret: s.secret,
		URL:    quizURL,
		Answer: answer,
	})
	if err != nil {
		return Verdict{Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Verdict{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("submitting answer to %s", endpoint)
	resp, err := s.client.Do(req)
	if err != nil {
		return Verdict{Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Verdict{Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}
	}

	var verdict verdictBody
	if err := json.Unmarshal(body, &verdict); err != nil {
		return Verdict{Reason: fmt.Sprintf("unparseable verdict: %s", string(body))}
	}
	return Verdict{Correct: verdict.Correct, NextURL: verdict.URL, Reason: verdict.Reason}
}

// Close releases the submitter's pooled connections. Called on every chain
// exit path.
func (s *Submitter) Close() {
	s.client.CloseIdleConnections()
}
