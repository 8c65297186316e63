package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftworks/quizchain/internal/config"
	"github.com/driftworks/quizchain/internal/events"
	"github.com/driftworks/quizchain/internal/secrets"
	"github.com/driftworks/quizchain/internal/store"
	"github.com/driftworks/quizchain/internal/store/memory"
)

type fakeBroker struct {
	mu        sync.Mutex
	published []events.ChainEvent
	subscribe func(ctx context.Context, chainID string) <-chan events.ChainEvent
}

func (b *fakeBroker) Publish(event events.ChainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *fakeBroker) Subscribe(ctx context.Context, chainID string) <-chan events.ChainEvent {
	if b.subscribe != nil {
		return b.subscribe(ctx, chainID)
	}
	ch := make(chan events.ChainEvent)
	close(ch)
	return ch
}

type fakeWorkflows struct {
	mu        sync.Mutex
	started   []string
	cancelled []string
	startErr  error
}

func (f *fakeWorkflows) StartChain(ctx context.Context, chainID string, startURL string, maxSteps int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, chainID)
	return nil
}

func (f *fakeWorkflows) CancelChain(ctx context.Context, chainID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, chainID)
	return nil
}

func testServer(t *testing.T) (*Server, *memory.MemoryStore, *fakeBroker, *fakeWorkflows) {
	t.Helper()
	memStore := memory.New()
	broker := &fakeBroker{}
	workflows := &fakeWorkflows{}
	key, err := secrets.ParseKey(strings.Repeat("k", 32))
	require.NoError(t, err)
	cfg := config.Config{
		StoredSecret: "caller-secret",
		MaxQuestions: 20,
	}
	return NewServer(memStore, broker, workflows, cfg, key), memStore, broker, workflows
}

func TestTriggerChainAccepted(t *testing.T) {
	server, memStore, broker, workflows := testServer(t)
	body := `{"email":"quiz@example.com","secret":"caller-secret","url":"https://quiz.example.com/start"}`

	req := httptest.NewRequest(http.MethodPost, "/api/quiz", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, "accepted", response["status"])
	chainID, _ := response["chain_id"].(string)
	require.NotEmpty(t, chainID)

	chain, err := memStore.GetChain(context.Background(), chainID)
	require.NoError(t, err)
	require.NotNil(t, chain)
	require.Equal(t, "running", chain.Status)
	require.Equal(t, "quiz@example.com", chain.Email)
	require.Equal(t, 20, chain.MaxSteps)
	require.NotEqual(t, "caller-secret", chain.SecretEnc)

	require.Equal(t, []string{chainID}, workflows.started)
	require.Len(t, broker.published, 1)
	require.Equal(t, "chain.started", broker.published[0].Type)

	stored, err := memStore.ListEvents(context.Background(), chainID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "chain.started", stored[0].Type)
}

func TestTriggerChainRootPath(t *testing.T) {
	server, _, _, workflows := testServer(t)
	body := `{"email":"quiz@example.com","secret":"caller-secret","url":"https://quiz.example.com/start"}`

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, workflows.started, 1)
}

func TestTriggerChainRejectsBadPayloads(t *testing.T) {
	server, _, _, _ := testServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"email":`},
		{"missing email", `{"secret":"caller-secret","url":"https://quiz.example.com"}`},
		{"missing secret", `{"email":"quiz@example.com","url":"https://quiz.example.com"}`},
		{"missing url", `{"email":"quiz@example.com","secret":"caller-secret"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/quiz", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			server.Router().ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestTriggerChainRejectsWrongSecret(t *testing.T) {
	server, memStore, _, workflows := testServer(t)
	body := `{"email":"quiz@example.com","secret":"not-the-secret","url":"https://quiz.example.com/start"}`

	req := httptest.NewRequest(http.MethodPost, "/api/quiz", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, workflows.started)
	summaries, err := memStore.ListChains(context.Background())
	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestTriggerChainWorkflowStartFailureMarksChainFailed(t *testing.T) {
	server, memStore, _, workflows := testServer(t)
	workflows.startErr = errors.New("temporal unavailable")
	body := `{"email":"quiz@example.com","secret":"caller-secret","url":"https://quiz.example.com/start"}`

	req := httptest.NewRequest(http.MethodPost, "/api/quiz", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	summaries, err := memStore.ListChains(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "failed", summaries[0].Status)
	require.Equal(t, "workflow_start_error", summaries[0].CompletionReason)
}

func TestListAndGetChains(t *testing.T) {
	server, memStore, _, _ := testServer(t)
	require.NoError(t, memStore.CreateChain(context.Background(), store.Chain{
		ID:     "chain-1",
		Email:  "quiz@example.com",
		URL:    "https://quiz.example.com/start",
		Status: "completed",
	}))

	req := httptest.NewRequest(http.MethodGet, "/chains", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []chainSummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, "chain-1", summaries[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/chains/chain-1", nil)
	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var chain chainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	require.Equal(t, "completed", chain.Status)

	req = httptest.NewRequest(http.MethodGet, "/chains/missing", nil)
	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListStepResults(t *testing.T) {
	server, memStore, _, _ := testServer(t)
	require.NoError(t, memStore.RecordStepResult(context.Background(), store.StepResult{
		ChainID:  "chain-1",
		Step:     1,
		URL:      "https://quiz.example.com/q1",
		Category: "tabular",
		Question: "Sum the values",
		Answer:   "42",
		Correct:  true,
		NextURL:  "https://quiz.example.com/q2",
		Attempts: 1,
	}))

	req := httptest.NewRequest(http.MethodGet, "/chains/chain-1/results", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var results []stepResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Step)
	require.Equal(t, "tabular", results[0].Category)
	require.True(t, results[0].Correct)
}

func TestDeleteChain(t *testing.T) {
	server, memStore, _, _ := testServer(t)
	require.NoError(t, memStore.CreateChain(context.Background(), store.Chain{ID: "chain-1"}))

	req := httptest.NewRequest(http.MethodDelete, "/chains/chain-1", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	chain, err := memStore.GetChain(context.Background(), "chain-1")
	require.NoError(t, err)
	require.Nil(t, chain)
}

func TestCancelChain(t *testing.T) {
	server, memStore, broker, workflows := testServer(t)
	require.NoError(t, memStore.CreateChain(context.Background(), store.Chain{ID: "chain-1", Status: "running"}))

	req := httptest.NewRequest(http.MethodPost, "/chains/chain-1/cancel", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"chain-1"}, workflows.cancelled)
	chain, err := memStore.GetChain(context.Background(), "chain-1")
	require.NoError(t, err)
	require.Equal(t, "cancelled", chain.Status)
	require.Len(t, broker.published, 1)
	require.Equal(t, "chain.cancelled", broker.published[0].Type)
}

func TestIngestEvent(t *testing.T) {
	server, memStore, broker, _ := testServer(t)
	body := `{"type":"step.solved","source":"worker","payload":{"step":1}}`

	req := httptest.NewRequest(http.MethodPost, "/chains/chain-1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	stored, err := memStore.ListEvents(context.Background(), "chain-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "step.solved", stored[0].Type)
	require.Equal(t, "worker", stored[0].Source)
	require.NotEmpty(t, stored[0].Timestamp)
	require.NotEmpty(t, stored[0].TraceID)
	require.Len(t, broker.published, 1)
}

func TestIngestEventRejectsBadTypes(t *testing.T) {
	server, _, _, _ := testServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty type", `{"type":""}`},
		{"underscore type", `{"type":"step_solved"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/chains/chain-1/events", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			server.Router().ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStreamEventsReplaysStored(t *testing.T) {
	server, memStore, _, _ := testServer(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, memStore.AppendEvent(context.Background(), store.ChainEvent{
			ChainID:   "chain-1",
			Seq:       int64(i),
			Type:      "step.solved",
			Timestamp: "2026-08-29T12:00:00Z",
			Source:    "worker",
			Payload:   map[string]any{"step": i},
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/chains/chain-1/events", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.Contains(t, body, "id: chain-1:1\n")
	require.Contains(t, body, "id: chain-1:3\n")
	require.Contains(t, body, "event: chain_event\n")
	require.Contains(t, body, `"type":"step.solved"`)
}

func TestStreamEventsResumesFromLastEventID(t *testing.T) {
	server, memStore, _, _ := testServer(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, memStore.AppendEvent(context.Background(), store.ChainEvent{
			ChainID: "chain-1",
			Seq:     int64(i),
			Type:    "step.solved",
			Payload: map[string]any{"step": i},
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/chains/chain-1/events", nil)
	req.Header.Set("Last-Event-ID", "chain-1:2")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.NotContains(t, body, "id: chain-1:1\n")
	require.NotContains(t, body, "id: chain-1:2\n")
	require.Contains(t, body, "id: chain-1:3\n")
}

func TestStreamEventsForwardsLiveEvents(t *testing.T) {
	server, _, broker, _ := testServer(t)
	live := make(chan events.ChainEvent, 1)
	live <- events.ChainEvent{ChainID: "chain-1", Seq: 7, Type: "chain.completed"}
	close(live)
	broker.subscribe = func(ctx context.Context, chainID string) <-chan events.ChainEvent {
		require.Equal(t, "chain-1", chainID)
		return live
	}

	req := httptest.NewRequest(http.MethodGet, "/chains/chain-1/events", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), "id: chain-1:7\n")
	require.Contains(t, rec.Body.String(), `"type":"chain.completed"`)
}

func TestParseAfterSeq(t *testing.T) {
	cases := []struct {
		name        string
		query       string
		lastEventID string
		want        int64
	}{
		{"none", "", "", 0},
		{"query param", "?after_seq=5", "", 5},
		{"query param wins", "?after_seq=5", "chain-1:9", 5},
		{"last event id", "", "chain-1:9", 9},
		{"wrong chain", "", "other:9", 0},
		{"malformed", "", "bogus", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/chains/chain-1/events"+tc.query, nil)
			if tc.lastEventID != "" {
				req.Header.Set("Last-Event-ID", tc.lastEventID)
			}
			require.Equal(t, tc.want, parseAfterSeq("chain-1", req))
		})
	}
}

func TestHealthAndReady(t *testing.T) {
	server, _, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var readiness readinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &readiness))
	require.Equal(t, "ok", readiness.Status)
	require.Equal(t, "ok", readiness.Subsystems["store"].Status)
}

func TestCORSPreflight(t *testing.T) {
	server, _, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/chains", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestShouldSuppressRequestLog(t *testing.T) {
	require.True(t, shouldSuppressRequestLog(http.MethodGet, "/chains/chain-1/events"))
	require.True(t, shouldSuppressRequestLog(http.MethodGet, "/chains"))
	require.False(t, shouldSuppressRequestLog(http.MethodPost, "/api/quiz"))
}
