package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

// PostgresSink is a second, on-prem audit sink for operators who can't (or
// won't) use Firestore. Grounded on the teacher's pkg/database repository
// style: plain database/sql, parameterized queries, fmt.Errorf("...: %w")
// wrapping, no ORM.
type PostgresSink struct {
	db      *sql.DB
	enabled bool
	logger  *log.Logger
}

// PostgresConfig configures a PostgresSink.
type PostgresConfig struct {
	Enabled bool
	DSN     string
	Logger  *log.Logger
}

const createOutcomesTable = `
CREATE TABLE IF NOT EXISTS session_outcomes (
	session_id      TEXT PRIMARY KEY,
	outcome         TEXT NOT NULL,
	threshold       INTEGER NOT NULL,
	signers         JSONB NOT NULL,
	tx_checksum     TEXT,
	transaction_id  TEXT,
	failure_reason  TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	closed_at       TIMESTAMPTZ NOT NULL
)`

// NewPostgresSink opens the connection and ensures the outcomes table
// exists. When cfg.Enabled is false, it returns a no-op sink without
// dialing the database at all.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[audit.postgres] ", log.LstdFlags)
	}
	sink := &PostgresSink{enabled: cfg.Enabled, logger: logger}
	if !cfg.Enabled {
		logger.Println("postgres audit sink disabled - running in no-op mode")
		return sink, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("audit: postgres sink enabled but dsn is empty")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createOutcomesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create session_outcomes table: %w", err)
	}
	sink.db = db
	logger.Println("postgres audit sink initialized")
	return sink, nil
}

// Record upserts the receipt into session_outcomes, keyed by session_id.
func (p *PostgresSink) Record(ctx context.Context, receipt Receipt) error {
	if !p.enabled {
		p.logger.Printf("postgres audit sink disabled - skipping receipt for session %s", receipt.SessionID)
		return nil
	}
	if p.db == nil {
		return fmt.Errorf("audit: postgres connection not initialized")
	}

	signers, err := json.Marshal(receipt.Signers)
	if err != nil {
		return fmt.Errorf("audit: marshal signers: %w", err)
	}

	const query = `
		INSERT INTO session_outcomes (
			session_id, outcome, threshold, signers, tx_checksum,
			transaction_id, failure_reason, created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			failure_reason = EXCLUDED.failure_reason,
			closed_at = EXCLUDED.closed_at`

	if _, err := p.db.ExecContext(ctx, query,
		receipt.SessionID, string(receipt.Outcome), receipt.Threshold, signers,
		receipt.TxChecksum, receipt.TransactionID, receipt.FailureReason,
		receipt.CreatedAt, receipt.ClosedAt,
	); err != nil {
		return fmt.Errorf("audit: insert session outcome: %w", err)
	}
	return nil
}

func (p *PostgresSink) Health(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	if p.db == nil {
		return fmt.Errorf("audit: postgres connection not initialized")
	}
	return p.db.PingContext(ctx)
}

func (p *PostgresSink) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
