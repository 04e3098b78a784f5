package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS generation_logs (
	id           UUID PRIMARY KEY,
	endpoint     TEXT NOT NULL,
	character    TEXT NOT NULL,
	client_ip    TEXT NOT NULL,
	provider     TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	status_code  INTEGER NOT NULL,
	failure_kind TEXT,
	latency_ms   INTEGER NOT NULL,
	cache_hit    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_generation_logs_created_at ON generation_logs (created_at);
`

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing connection
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// EnsureSchema creates the generation log table if it does not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LogGeneration inserts a generation log row
func (db *DB) LogGeneration(ctx context.Context, log *models.GenerationLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO generation_logs (
			id, endpoint, character, client_ip, provider, attempts,
			status_code, failure_kind, latency_ms, cache_hit, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		log.ID,
		log.Endpoint,
		log.Character,
		log.ClientIP,
		log.Provider,
		log.Attempts,
		log.StatusCode,
		log.FailureKind,
		log.LatencyMs,
		log.CacheHit,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation log: %w", err)
	}
	return nil
}

// CharacterUsage returns per-character request and failure counts since a time
func (db *DB) CharacterUsage(ctx context.Context, since time.Time) ([]models.CharacterUsage, error) {
	query := `
		SELECT character,
		       COUNT(*) AS requests,
		       COUNT(*) FILTER (WHERE status_code >= 400) AS failures
		FROM generation_logs
		WHERE created_at >= $1
		GROUP BY character
		ORDER BY requests DESC, character
	`

	rows, err := db.conn.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var usage []models.CharacterUsage
	for rows.Next() {
		var u models.CharacterUsage
		if err := rows.Scan(&u.Character, &u.Requests, &u.Failures); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return usage, nil
}
