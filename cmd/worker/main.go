package main

import (
	"context"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/driftworks/quizchain/internal/browser"
	"github.com/driftworks/quizchain/internal/config"
	"github.com/driftworks/quizchain/internal/llm"
	"github.com/driftworks/quizchain/internal/secrets"
	"github.com/driftworks/quizchain/internal/store"
	"github.com/driftworks/quizchain/internal/store/memory"
	"github.com/driftworks/quizchain/internal/store/postgres"
	"github.com/driftworks/quizchain/internal/workflows"
)

type browserService interface {
	browser.Renderer
	Start(ctx context.Context) error
	Stop()
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	dialTemporal = client.Dial
	newStore     = func(conn string) (store.Store, error) {
		if conn == "" {
			log.Println("POSTGRES_URL not set, using in-memory store")
			return memory.New(), nil
		}
		return postgres.New(conn)
	}
	parseSecretsKey = secrets.ParseKey
	newBrowser      = func(opts browser.Options) browserService {
		return browser.NewService(opts)
	}
	newActivities = func(st store.Store, renderer browser.Renderer, cfg llm.Config, secretsKey []byte, controlPlaneURL string) *workflows.ChainActivities {
		return workflows.NewChainActivities(st, renderer, cfg, secretsKey, controlPlaneURL)
	}
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	chainStore, err := newStore(cfg.PostgresURL)
	if err != nil {
		return err
	}

	secretsKey, err := parseSecretsKey(cfg.SecretsKey)
	if err != nil {
		return err
	}

	renderer := newBrowser(browser.Options{Headless: cfg.BrowserHeadless})
	if err := renderer.Start(context.Background()); err != nil {
		return err
	}
	defer renderer.Stop()

	activities := newActivities(chainStore, renderer, llm.Config{
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
	}, secretsKey, cfg.ControlPlaneURL)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ChainWorkflow)
	w.RegisterActivity(activities)

	log.Println("quizchain worker started")
	return w.Run(workerInterrupt())
}
