package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/driftworks/quizchain/internal/api"
	"github.com/driftworks/quizchain/internal/config"
	"github.com/driftworks/quizchain/internal/events"
	"github.com/driftworks/quizchain/internal/secrets"
	"github.com/driftworks/quizchain/internal/store"
	"github.com/driftworks/quizchain/internal/store/memory"
	"github.com/driftworks/quizchain/internal/store/postgres"
	"github.com/driftworks/quizchain/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	parseSecretsKey = secrets.ParseKey
	newBroker       = events.NewBroker
	newStore        = func(conn string) (store.Store, error) {
		if conn == "" {
			log.Println("POSTGRES_URL not set, using in-memory store")
			return memory.New(), nil
		}
		return postgres.New(conn)
	}
	dialTemporal       = client.Dial
	newWorkflowService = workflows.NewService
	newServer          = func(st store.Store, broker *events.Broker, workflowService *workflows.Service, cfg config.Config, secretsKey []byte) server {
		return api.NewServer(st, broker, workflowService, cfg, secretsKey)
	}
	notifyContext = signal.NotifyContext
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
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	secretsKey, err := parseSecretsKey(cfg.SecretsKey)
	if err != nil {
		return err
	}

	chainStore, err := newStore(cfg.PostgresURL)
	if err != nil {
		return err
	}
	broker := newBroker()

	workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return err
	}
	if workflowClient != nil {
		defer workflowClient.Close()
	}
	workflowService := newWorkflowService(workflowClient, cfg.TemporalTaskQueue, time.Duration(cfg.ChainTimeoutSeconds)*time.Second)

	apiServer := newServer(chainStore, broker, workflowService, cfg, secretsKey)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("quizchain control plane listening on %s", addr)
	return apiServer.Start(ctx, addr)
}
