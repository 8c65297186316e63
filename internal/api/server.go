package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/driftworks/quizchain/internal/config"
	"github.com/driftworks/quizchain/internal/events"
	"github.com/driftworks/quizchain/internal/secrets"
	"github.com/driftworks/quizchain/internal/store"
)

type Server struct {
	store      store.Store
	broker     Broker
	workflows  WorkflowService
	cfg        config.Config
	secretsKey []byte
}

type Broker interface {
	Publish(event events.ChainEvent)
	Subscribe(ctx context.Context, chainID string) <-chan events.ChainEvent
}

type WorkflowService interface {
	StartChain(ctx context.Context, chainID string, startURL string, maxSteps int) error
	CancelChain(ctx context.Context, chainID string) error
}

func NewServer(store store.Store, broker Broker, workflows WorkflowService, cfg config.Config, secretsKey []byte) *Server {
	return &Server{
		store:      store,
		broker:     broker,
		workflows:  workflows,
		cfg:        cfg,
		secretsKey: secretsKey,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/", s.triggerChain)
	r.Post("/api/quiz", s.triggerChain)
	r.Get("/chains", s.listChains)
	r.Get("/chains/{id}", s.getChain)
	r.Delete("/chains/{id}", s.deleteChain)
	r.Post("/chains/{id}/cancel", s.cancelChain)
	r.Get("/chains/{id}/results", s.listStepResults)
	r.Post("/chains/{id}/events", s.ingestEvent)
	r.Get("/chains/{id}/events", s.streamEvents)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && cleanPath == "/chains" {
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListChains(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.workflows == nil {
		subsystems["workflows"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["workflows"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

type triggerChainRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// triggerChain validates the caller, records the chain, kicks off the
// workflow, and returns immediately. The solving happens out of band;
// callers watch progress through the results and events endpoints.
func (s *Server) triggerChain(w http.ResponseWriter, r *http.Request) {
	var req triggerChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.URL = strings.TrimSpace(req.URL)
	if req.Email == "" || req.Secret == "" || req.URL == "" {
		http.Error(w, "email, secret and url are required", http.StatusBadRequest)
		return
	}
	if s.cfg.StoredSecret == "" || req.Secret != s.cfg.StoredSecret {
		http.Error(w, "invalid secret", http.StatusForbidden)
		return
	}

	secretEnc, err := secrets.Encrypt(s.secretsKey, req.Secret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	chain := store.Chain{
		ID:        id,
		Email:     req.Email,
		SecretEnc: secretEnc,
		URL:       req.URL,
		Status:    "running",
		MaxSteps:  s.cfg.MaxQuestions,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateChain(r.Context(), chain); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if s.workflows != nil {
		if err := s.workflows.StartChain(r.Context(), id, req.URL, chain.MaxSteps); err != nil {
			_ = s.store.UpdateChainStatus(r.Context(), id, "failed", "workflow_start_error")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	seq, _ := s.store.NextSeq(r.Context(), id)
	event := store.ChainEvent{
		ChainID:   id,
		Seq:       seq,
		Type:      "chain.started",
		Timestamp: now,
		Source:    "control_plane",
		TraceID:   uuid.New().String(),
		Payload: map[string]any{
			"email":     req.Email,
			"url":       req.URL,
			"max_steps": chain.MaxSteps,
		},
	}
	_ = s.store.AppendEvent(r.Context(), event)
	s.broker.Publish(toEvent(event))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "accepted",
		"chain_id": id,
	})
}

type chainSummaryResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	URL              string `json:"url"`
	Status           string `json:"status"`
	CompletionReason string `json:"completion_reason,omitempty"`
	MaxSteps         int    `json:"max_steps"`
	StepCount        int64  `json:"step_count"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func (s *Server) listChains(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListChains(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]chainSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		response = append(response, chainSummaryResponse{
			ID:               summary.ID,
			Email:            summary.Email,
			URL:              summary.URL,
			Status:           summary.Status,
			CompletionReason: summary.CompletionReason,
			MaxSteps:         summary.MaxSteps,
			StepCount:        summary.StepCount,
			CreatedAt:        summary.CreatedAt,
			UpdatedAt:        summary.UpdatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

type chainResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	URL              string `json:"url"`
	Status           string `json:"status"`
	CompletionReason string `json:"completion_reason,omitempty"`
	MaxSteps         int    `json:"max_steps"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func (s *Server) getChain(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "id")
	chain, err := s.store.GetChain(r.Context(), chainID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if chain == nil {
		http.Error(w, "chain not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chainResponse{
		ID:               chain.ID,
		Email:            chain.Email,
		URL:              chain.URL,
		Status:           chain.Status,
		CompletionReason: chain.CompletionReason,
		MaxSteps:         chain.MaxSteps,
		CreatedAt:        chain.CreatedAt,
		UpdatedAt:        chain.UpdatedAt,
	})
}

func (s *Server) deleteChain(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "id")
	if err := s.store.DeleteChain(r.Context(), chainID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelChain(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "id")
	if s.workflows != nil {
		_ = s.workflows.CancelChain(r.Context(), chainID)
	}
	_ = s.store.UpdateChainStatus(r.Context(), chainID, "cancelled", "user_requested")
	seq, _ := s.store.NextSeq(r.Context(), chainID)
	event := store.ChainEvent{
		ChainID:   chainID,
		Seq:       seq,
		Type:      "chain.cancelled",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    "control_plane",
		TraceID:   uuid.New().String(),
		Payload:   map[string]any{"reason": "user_requested"},
	}
	_ = s.store.AppendEvent(r.Context(), event)
	s.broker.Publish(toEvent(event))
	w.WriteHeader(http.StatusAccepted)
}

type stepResultResponse struct {
	Step      int    `json:"step"`
	URL       string `json:"url"`
	Endpoint  string `json:"endpoint,omitempty"`
	Category  string `json:"category"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Correct   bool   `json:"correct"`
	NextURL   string `json:"next_url,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) listStepResults(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "id")
	results, err := s.store.ListStepResults(r.Context(), chainID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]stepResultResponse, 0, len(results))
	for _, result := range results {
		response = append(response, stepResultResponse{
			Step:      result.Step,
			URL:       result.URL,
			Endpoint:  result.Endpoint,
			Category:  result.Category,
			Question:  result.Question,
			Answer:    result.Answer,
			Correct:   result.Correct,
			NextURL:   result.NextURL,
			Reason:    result.Reason,
			Attempts:  result.Attempts,
			CreatedAt: result.CreatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

type ingestEventRequest struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "id")
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "event type required", http.StatusBadRequest)
		return
	}
	if strings.Contains(req.Type, "_") {
		http.Error(w, "event type must use dot notation", http.StatusBadRequest)
		return
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	seq, _ := s.store.NextSeq(r.Context(), chainID)
	event := store.ChainEvent{
		ChainID:   chainID,
		Seq:       seq,
		Type:      events.NormalizeType(req.Type),
		Timestamp: timestamp,
		Source:    req.Source,
		TraceID:   strings.TrimSpace(req.TraceID),
		Payload:   req.Payload,
	}
	if event.TraceID == "" {
		event.TraceID = uuid.New().String()
	}
	_ = s.store.AppendEvent(r.Context(), event)
	s.broker.Publish(toEvent(event))

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	afterSeq := parseAfterSeq(chainID, r)
	stored, err := s.store.ListEvents(ctx, chainID, afterSeq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, event := range stored {
		sendSSE(w, toEvent(event))
		flusher.Flush()
	}

	eventsChan := s.broker.Subscribe(ctx, chainID)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			sendSSE(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.ChainEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.ChainID, event.Seq)
	fmt.Fprint(w, "event: chain_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func toEvent(event store.ChainEvent) events.ChainEvent {
	return events.ChainEvent{
		ChainID: event.ChainID,
		Seq:     event.Seq,
		Type:    events.NormalizeType(event.Type),
		Ts:      event.Timestamp,
		Source:  event.Source,
		TraceID: event.TraceID,
		Payload: event.Payload,
	}
}

func parseAfterSeq(chainID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	parts := strings.Split(lastEventID, ":")
	if len(parts) != 2 {
		return 0
	}
	if parts[0] != chainID {
		return 0
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
