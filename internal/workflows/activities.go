package workflows

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftworks/quizchain/internal/browser"
	"github.com/driftworks/quizchain/internal/llm"
	"github.com/driftworks/quizchain/internal/quiz"
	"github.com/driftworks/quizchain/internal/secrets"
	"github.com/driftworks/quizchain/internal/solver"
	"github.com/driftworks/quizchain/internal/store"
)

type StepInput struct {
	ChainID string
	Step    int
	URL     string
}

type StepOutput struct {
	Correct  bool   `json:"correct"`
	NextURL  string `json:"next_url"`
	Fatal    bool   `json:"fatal"`
	Reason   string `json:"reason"`
	Category string `json:"category"`
	Attempts int    `json:"attempts"`
}

type ChainFailureInput struct {
	ChainID string
	Step    int
	Error   string
}

type CompleteChainInput struct {
	ChainID          string
	Status           string
	CompletionReason string
	StepsCompleted   int
}

var (
	newProvider   = llm.NewProvider
	decryptSecret = secrets.Decrypt
	marshalJSON   = json.Marshal
)

// Paths the question tells us to fetch before answering.
var (
	scrapePathRE = regexp.MustCompile(`[Ss]crape\s+(/[^\s<>"']+)`)
	visitPathRE  = regexp.MustCompile(`[Vv]isit\s+(/[^\s<>"']+)`)
	getFromRE    = regexp.MustCompile(`[Gg]et.*?from\s+(/[^\s<>"']+)`)
	hrefPathRE   = regexp.MustCompile(`href="(/[^"]+)"`)
)

type ChainActivities struct {
	store          store.Store
	renderer       browser.Renderer
	llmConfig      llm.Config
	secretsKey     []byte
	controlPlane   string
	httpClient     *http.Client
	requestTimeout time.Duration
}

func NewChainActivities(store store.Store, renderer browser.Renderer, llmConfig llm.Config, secretsKey []byte, controlPlaneURL string) *ChainActivities {
	return &ChainActivities{
		store:          store,
		renderer:       renderer,
		llmConfig:      llmConfig,
		secretsKey:     secretsKey,
		controlPlane:   strings.TrimRight(controlPlaneURL, "/"),
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		requestTimeout: 10 * time.Second,
	}
}

// SolveStep runs one quiz page end to end: render, parse, solve,
// submit, and record the verdict. A wrong answer with no next URL gets
// exactly one vision retry against the page screenshot.
func (a *ChainActivities) SolveStep(ctx context.Context, input StepInput) (StepOutput, error) {
	if strings.TrimSpace(input.ChainID) == "" {
		return StepOutput{}, errors.New("chain_id required")
	}
	chain, err := a.store.GetChain(ctx, input.ChainID)
	if err != nil {
		return StepOutput{}, err
	}
	if chain == nil {
		return StepOutput{}, fmt.Errorf("chain not found: %s", input.ChainID)
	}
	if a.secretsKey == nil {
		return StepOutput{}, errors.New("SECRETS_KEY is required to decrypt the caller secret")
	}
	secret, err := decryptSecret(a.secretsKey, chain.SecretEnc)
	if err != nil {
		return StepOutput{}, err
	}

	_ = a.emitEvent(ctx, input.ChainID, "step.started", map[string]any{
		"step": input.Step,
		"url":  input.URL,
	})

	page, err := a.renderer.Render(ctx, input.URL)
	if err != nil {
		_ = a.emitEvent(ctx, input.ChainID, "step.failed", map[string]any{
			"step":  input.Step,
			"phase": "fetching",
			"error": err.Error(),
		})
		return StepOutput{Fatal: true, Reason: "fetch_error"}, nil
	}

	task := quiz.Parse(page.HTML, input.URL)
	if task.SubmissionEndpoint == "" {
		_ = a.emitEvent(ctx, input.ChainID, "step.failed", map[string]any{
			"step":  input.Step,
			"phase": "parsing",
			"error": "no submission endpoint found on page",
		})
		return StepOutput{Fatal: true, Reason: "parse_error"}, nil
	}
	_ = a.emitEvent(ctx, input.ChainID, "step.parsed", map[string]any{
		"step":     input.Step,
		"category": string(task.Category),
		"endpoint": task.SubmissionEndpoint,
		"question": task.Question,
	})

	provider, err := newProvider(a.llmConfig)
	if err != nil {
		return StepOutput{}, err
	}
	analyst := llm.NewService(provider)

	visionUsed := false
	rawAnswer, solveErr := a.dispatch(ctx, analyst, task, page, input.URL)
	if solveErr != nil {
		log.Printf("solver error on step %d (%s): %v, retrying with vision", input.Step, task.Category, solveErr)
		rawAnswer, err = a.solveWithVision(ctx, analyst, task.Question, page.Screenshot)
		if err != nil {
			_ = a.emitEvent(ctx, input.ChainID, "step.failed", map[string]any{
				"step":  input.Step,
				"phase": "dispatching",
				"error": err.Error(),
			})
			return StepOutput{Fatal: true, Reason: "solver_error", Category: string(task.Category)}, nil
		}
		visionUsed = true
	}

	submitter := quiz.NewSubmitter(chain.Email, secret)
	defer submitter.Close()

	answer := quiz.Normalize(rawAnswer)
	attempts := 1
	verdict := submitter.Submit(ctx, task.SubmissionEndpoint, input.URL, answer)

	if !verdict.Correct && verdict.NextURL == "" && !visionUsed {
		_ = a.emitEvent(ctx, input.ChainID, "step.retrying", map[string]any{
			"step":   input.Step,
			"reason": verdict.Reason,
		})
		retryAnswer, retryErr := a.solveWithVision(ctx, analyst, task.Question, page.Screenshot)
		if retryErr == nil {
			answer = quiz.Normalize(retryAnswer)
			attempts = 2
			verdict = submitter.Submit(ctx, task.SubmissionEndpoint, input.URL, answer)
		} else {
			log.Printf("vision retry failed on step %d: %v", input.Step, retryErr)
		}
	}

	result := store.StepResult{
		ChainID:  input.ChainID,
		Step:     input.Step,
		URL:      input.URL,
		Endpoint: task.SubmissionEndpoint,
		Category: string(task.Category),
		Question: task.Question,
		Answer:   answer.String(),
		Correct:  verdict.Correct,
		NextURL:  verdict.NextURL,
		Reason:   verdict.Reason,
		Attempts: attempts,
	}
	if err := a.store.RecordStepResult(ctx, result); err != nil {
		log.Printf("failed to record step result: %v", err)
	}
	_ = a.emitEvent(ctx, input.ChainID, "step.solved", map[string]any{
		"step":     input.Step,
		"category": string(task.Category),
		"correct":  verdict.Correct,
		"next_url": verdict.NextURL,
		"attempts": attempts,
	})

	return StepOutput{
		Correct:  verdict.Correct,
		NextURL:  verdict.NextURL,
		Reason:   verdict.Reason,
		Category: string(task.Category),
		Attempts: attempts,
	}, nil
}

func (a *ChainActivities) dispatch(ctx context.Context, analyst *llm.Service, task quiz.Task, page browser.Page, pageURL string) (string, error) {
	downloadURL := task.DownloadEndpoint
	if downloadURL != "" {
		downloadURL = quiz.AbsoluteURL(downloadURL, pageURL)
	}
	switch task.Category {
	case quiz.CategoryPDF:
		return solver.NewPDF(analyst, a.renderer).Solve(ctx, task.Question, downloadURL)
	case quiz.CategoryTabular:
		question := task.Question
		if len(page.Screenshot) > 0 {
			// The page often renders context the raw data lacks; let the
			// vision model describe it before the tabular prompt runs.
			encoded := base64.StdEncoding.EncodeToString(page.Screenshot)
			if description, err := analyst.AnalyzeImage(ctx, encoded, "Describe the data shown on this page, including any table values."); err == nil && description != "" {
				question += "\n\nPage as rendered:\n" + description
			}
		}
		return solver.NewTabular(analyst, a.renderer).Solve(ctx, question, downloadURL, page.HTML)
	case quiz.CategoryScraping:
		if target := referencedPath(task.Question, page.HTML); target != "" {
			content, err := a.renderer.FetchPath(ctx, quiz.AbsoluteURL(target, pageURL))
			if err == nil && strings.TrimSpace(content) != "" {
				return analyst.AnswerQuiz(ctx, task.Question, "Scraped Content:\n"+content)
			}
		}
		if len(page.Screenshot) > 0 {
			return a.solveWithVision(ctx, analyst, task.Question, page.Screenshot)
		}
		return solver.NewScraper(analyst).Solve(ctx, task.Question, page.HTML)
	case quiz.CategoryAPI:
		return analyst.AnswerQuiz(ctx, task.Question, task.RawContent)
	case quiz.CategoryVisualization:
		return solver.NewChart(analyst).Solve(ctx, task.Question, page.HTML)
	default:
		return analyst.AnswerQuiz(ctx, task.Question, task.RawContent)
	}
}

// referencedPath finds the relative path a question points at, either
// named in the prose or as the first link on the page.
func referencedPath(question string, rawHTML string) string {
	for _, re := range []*regexp.Regexp{scrapePathRE, visitPathRE, getFromRE} {
		if m := re.FindStringSubmatch(question); m != nil {
			return m[1]
		}
	}
	if m := hrefPathRE.FindStringSubmatch(rawHTML); m != nil {
		return m[1]
	}
	return ""
}

func (a *ChainActivities) solveWithVision(ctx context.Context, analyst *llm.Service, question string, screenshot []byte) (string, error) {
	if len(screenshot) == 0 {
		return "", errors.New("no screenshot available for vision analysis")
	}
	encoded := base64.StdEncoding.EncodeToString(screenshot)
	prompt := "Look at this quiz page screenshot and answer the question. Question: " + question
	return analyst.AnalyzeImage(ctx, encoded, prompt)
}

func (a *ChainActivities) RecordChainFailure(ctx context.Context, input ChainFailureInput) error {
	if strings.TrimSpace(input.ChainID) == "" {
		return errors.New("chain_id required")
	}
	detail := strings.TrimSpace(input.Error)
	if detail == "" {
		detail = "unknown workflow activity error"
	}
	payload := map[string]any{
		"error": detail,
		"step":  input.Step,
	}
	if err := a.postEvent(ctx, input.ChainID, "chain.failed", payload); err == nil {
		return nil
	}
	return a.appendLocalEvent(ctx, input.ChainID, "chain.failed", "worker", payload)
}

func (a *ChainActivities) CompleteChain(ctx context.Context, input CompleteChainInput) error {
	if strings.TrimSpace(input.ChainID) == "" {
		return errors.New("chain_id required")
	}
	if err := a.store.UpdateChainStatus(ctx, input.ChainID, input.Status, input.CompletionReason); err != nil {
		return err
	}
	eventType := "chain.completed"
	if input.Status == "failed" {
		eventType = "chain.failed"
	}
	return a.emitEvent(ctx, input.ChainID, eventType, map[string]any{
		"status":            input.Status,
		"completion_reason": input.CompletionReason,
		"steps_completed":   input.StepsCompleted,
	})
}

func (a *ChainActivities) emitEvent(ctx context.Context, chainID string, eventType string, payload map[string]any) error {
	if err := a.postEvent(ctx, chainID, eventType, payload); err == nil {
		return nil
	}
	return a.appendLocalEvent(ctx, chainID, eventType, "worker", payload)
}

func (a *ChainActivities) appendLocalEvent(ctx context.Context, chainID string, eventType string, source string, payload map[string]any) error {
	seq, err := a.store.NextSeq(ctx, chainID)
	if err != nil {
		return err
	}
	return a.store.AppendEvent(ctx, store.ChainEvent{
		ChainID:   chainID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    source,
		TraceID:   uuid.New().String(),
		Payload:   payload,
	})
}

func (a *ChainActivities) postEvent(ctx context.Context, chainID string, eventType string, payload map[string]any) error {
	url := fmt.Sprintf("%s/chains/%s/events", a.controlPlane, chainID)
	body, err := marshalJSON(map[string]any{
		"type":      eventType,
		"source":    "worker",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"trace_id":  uuid.New().String(),
		"payload":   payload,
	})
	if err != nil {
		return err
	}
	requestCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control plane event failed: %s", resp.Status)
	}
	return nil
}
