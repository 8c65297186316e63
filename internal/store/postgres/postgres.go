package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/driftworks/quizchain/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"chains",
		"step_results",
		"chain_events",
		"chain_event_sequences",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run infra/migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateChain(ctx context.Context, chain store.Chain) error {
	status := strings.TrimSpace(chain.Status)
	if status == "" {
		status = "pending"
	}
	const query = `
		INSERT INTO chains (
			id,
			email,
			secret_enc,
			url,
			status,
			completion_reason,
			max_steps,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($9, NOW()))
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		chain.ID,
		chain.Email,
		chain.SecretEnc,
		chain.URL,
		status,
		nullString(chain.CompletionReason),
		chain.MaxSteps,
		parseTimestampValue(chain.CreatedAt),
		parseTimestampValue(chain.UpdatedAt),
	)
	return err
}

func (p *PostgresStore) GetChain(ctx context.Context, chainID string) (*store.Chain, error) {
	const query = `
		SELECT id, email, secret_enc, url, status, completion_reason, max_steps, created_at, updated_at
		FROM chains
		WHERE id = $1
	`
	var (
		chain            store.Chain
		completionReason sql.NullString
		createdAt        time.Time
		updatedAt        time.Time
	)
	err := p.db.QueryRowContext(ctx, query, chainID).Scan(
		&chain.ID,
		&chain.Email,
		&chain.SecretEnc,
		&chain.URL,
		&chain.Status,
		&completionReason,
		&chain.MaxSteps,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if completionReason.Valid {
		chain.CompletionReason = completionReason.String
	}
	chain.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	chain.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &chain, nil
}

func (p *PostgresStore) ListChains(ctx context.Context) ([]store.ChainSummary, error) {
	const query = `
		SELECT
			c.id,
			c.email,
			c.url,
			c.status,
			c.completion_reason,
			c.max_steps,
			COUNT(s.chain_id) AS step_count,
			c.created_at,
			c.updated_at
		FROM chains c
		LEFT JOIN step_results s ON s.chain_id = c.id
		GROUP BY c.id, c.email, c.url, c.status, c.completion_reason, c.max_steps, c.created_at, c.updated_at
		ORDER BY c.updated_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []store.ChainSummary{}
	for rows.Next() {
		var (
			summary          store.ChainSummary
			completionReason sql.NullString
			createdAt        time.Time
			updatedAt        time.Time
		)
		if err := rows.Scan(
			&summary.ID,
			&summary.Email,
			&summary.URL,
			&summary.Status,
			&completionReason,
			&summary.MaxSteps,
			&summary.StepCount,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}
		if completionReason.Valid {
			summary.CompletionReason = completionReason.String
		}
		summary.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		summary.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (p *PostgresStore) UpdateChainStatus(ctx context.Context, chainID string, status string, completionReason string) error {
	const query = `
		UPDATE chains
		SET status = $2, completion_reason = $3, updated_at = NOW()
		WHERE id = $1
	`
	_, err := p.db.ExecContext(ctx, query, chainID, status, nullString(completionReason))
	return err
}

func (p *PostgresStore) DeleteChain(ctx context.Context, chainID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM chains WHERE id = $1", chainID)
	return err
}

func (p *PostgresStore) RecordStepResult(ctx context.Context, result store.StepResult) error {
	const query = `
		INSERT INTO step_results (
			chain_id,
			step,
			url,
			endpoint,
			category,
			question,
			answer,
			correct,
			next_url,
			reason,
			attempts,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		result.ChainID,
		result.Step,
		result.URL,
		nullString(result.Endpoint),
		nullString(result.Category),
		result.Question,
		result.Answer,
		result.Correct,
		nullString(result.NextURL),
		nullString(result.Reason),
		result.Attempts,
		parseTimestampValue(result.CreatedAt),
	)
	return err
}

func (p *PostgresStore) ListStepResults(ctx context.Context, chainID string) ([]store.StepResult, error) {
	const query = `
		SELECT chain_id, step, url, endpoint, category, question, answer, correct, next_url, reason, attempts, created_at
		FROM step_results
		WHERE chain_id = $1
		ORDER BY step ASC
	`
	rows, err := p.db.QueryContext(ctx, query, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.StepResult{}
	for rows.Next() {
		var (
			result    store.StepResult
			endpoint  sql.NullString
			category  sql.NullString
			nextURL   sql.NullString
			reason    sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(
			&result.ChainID,
			&result.Step,
			&result.URL,
			&endpoint,
			&category,
			&result.Question,
			&result.Answer,
			&result.Correct,
			&nextURL,
			&reason,
			&result.Attempts,
			&createdAt,
		); err != nil {
			return nil, err
		}
		if endpoint.Valid {
			result.Endpoint = endpoint.String
		}
		if category.Valid {
			result.Category = category.String
		}
		if nextURL.Valid {
			result.NextURL = nextURL.String
		}
		if reason.Valid {
			result.Reason = reason.String
		}
		result.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.ChainEvent) error {
	event.Type = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event.Type)), "_", ".")
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timestamp := event.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	timestampValue := parseTimestampValue(timestamp)
	traceID := strings.TrimSpace(event.TraceID)
	var traceIDValue any
	if traceID == "" {
		traceIDValue = nil
	} else if _, err := uuid.Parse(traceID); err != nil {
		traceIDValue = nil
	} else {
		traceIDValue = traceID
	}
	const query = `
		INSERT INTO chain_events (chain_id, seq, type, timestamp, source, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(ctx, query, event.ChainID, event.Seq, event.Type, timestampValue, event.Source, traceIDValue, encoded)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, chainID string, afterSeq int64) ([]store.ChainEvent, error) {
	const query = `
		SELECT chain_id, seq, type, timestamp, source, trace_id, payload
		FROM chain_events
		WHERE chain_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, chainID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.ChainEvent{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var traceID sql.NullString
		var event store.ChainEvent
		if err := rows.Scan(&event.ChainID, &event.Seq, &event.Type, &timestamp, &event.Source, &traceID, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if traceID.Valid {
			event.TraceID = traceID.String
		}
		if len(payloadBytes) > 0 {
			payload := map[string]any{}
			if err := json.Unmarshal(payloadBytes, &payload); err != nil {
				return nil, err
			}
			event.Payload = payload
		} else {
			event.Payload = map[string]any{}
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, chainID string) (int64, error) {
	const query = `
		INSERT INTO chain_event_sequences (chain_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (chain_id)
		DO UPDATE SET last_seq = chain_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, chainID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func parseTimestampValue(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
