package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"

	_ "github.com/lib/pq"
)

// Postgres is the production, multi-node storage engine. Its tables and
// statements have the same shape as SQLite's; they differ in placeholder
// style ($1, $2, ... instead of ?) and in column types (TIMESTAMPTZ,
// BYTEA, BIGINT where SQLite uses DATETIME, BLOB, INTEGER).
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL-backed store and migrates its schema.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	p := &Postgres{db: db}
	if err := p.migrate(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			trace_id TEXT NOT NULL,
			hop INTEGER NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			tenant TEXT NOT NULL,
			cid TEXT NOT NULL,
			canon TEXT NOT NULL,
			algo TEXT NOT NULL,
			prev_receipt_hash TEXT,
			receipt_hash TEXT NOT NULL,
			policy_engine TEXT,
			policy_reason TEXT,
			policy_allowed SMALLINT,
			forwarded_json TEXT,
			fallback_used SMALLINT NOT NULL DEFAULT 0,
			fu_tokens BIGINT NOT NULL DEFAULT 0,
			semantic_violations TEXT,
			signature TEXT NOT NULL,
			kid TEXT NOT NULL,
			PRIMARY KEY (trace_id, hop)
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency (
			api_key TEXT NOT NULL,
			idem_key TEXT NOT NULL,
			response_body BYTEA NOT NULL,
			status_code INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (api_key, idem_key)
		)`,
		`CREATE TABLE IF NOT EXISTS usage_counters (
			tenant TEXT NOT NULL,
			month TEXT NOT NULL,
			vex BIGINT NOT NULL DEFAULT 0,
			fu BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant, month)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) AppendReceipt(ctx context.Context, r signet.Receipt, idemKey string, responseBody []byte, statusCode int, vexDelta, fuDelta int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentTail sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT receipt_hash FROM receipts WHERE trace_id = $1 ORDER BY hop DESC LIMIT 1`,
		r.TraceID,
	).Scan(&currentTail)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: read tail: %w", err)
	}

	wantPrev := ""
	if r.PrevReceiptHash != nil {
		wantPrev = *r.PrevReceiptHash
	}
	if currentTail.String != wantPrev || (currentTail.Valid != (r.PrevReceiptHash != nil)) {
		return ErrChainConflict
	}

	forwardedJSON, err := marshalForwarded(r.Forwarded)
	if err != nil {
		return err
	}
	violationsJSON, err := marshalStrings(r.SemanticViolations)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (
			trace_id, hop, timestamp, tenant, cid, canon, algo, prev_receipt_hash,
			receipt_hash, policy_engine, policy_reason, policy_allowed,
			forwarded_json, fallback_used, fu_tokens, semantic_violations, signature, kid
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		r.TraceID, r.Hop, r.Timestamp.UTC(), r.Tenant, r.CID, r.Canon, r.Algo,
		r.PrevReceiptHash, r.ReceiptHash, r.Policy.Engine, r.Policy.Reason, boolToInt(r.Policy.Allowed),
		forwardedJSON, boolToInt(r.FallbackUsed), r.FUTokens, violationsJSON, r.Signature, r.KID,
	)
	if err != nil {
		return fmt.Errorf("store: insert receipt: %w", err)
	}

	if idemKey != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO idempotency (api_key, idem_key, response_body, status_code, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (api_key, idem_key) DO NOTHING`,
			r.Tenant, idemKey, responseBody, statusCode, nowUTC(),
		)
		if err != nil {
			return fmt.Errorf("store: upsert idempotency: %w", err)
		}
	}

	month := signet.Month(r.Timestamp)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_counters (tenant, month, vex, fu) VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant, month) DO UPDATE SET vex = usage_counters.vex + excluded.vex, fu = usage_counters.fu + excluded.fu`,
		r.Tenant, month, vexDelta, fuDelta,
	)
	if err != nil {
		return fmt.Errorf("store: increment usage: %w", err)
	}

	return tx.Commit()
}

func (p *Postgres) Chain(ctx context.Context, traceID string) ([]signet.Receipt, error) {
	rows, err := p.db.QueryContext(ctx, receiptColumns(`SELECT`)+` FROM receipts WHERE trace_id = $1 ORDER BY hop ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("store: query chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []signet.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Tail(ctx context.Context, traceID string) (signet.Receipt, error) {
	row := p.db.QueryRowContext(ctx, receiptColumns(`SELECT`)+` FROM receipts WHERE trace_id = $1 ORDER BY hop DESC LIMIT 1`, traceID)
	r, err := scanReceiptRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return signet.Receipt{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) LookupIdempotent(ctx context.Context, apiKey, idemKey string) (signet.IdempotencyRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT api_key, idem_key, response_body, status_code, created_at FROM idempotency WHERE api_key = $1 AND idem_key = $2`,
		apiKey, idemKey,
	)
	var rec signet.IdempotencyRecord
	var createdAt time.Time
	err := row.Scan(&rec.APIKey, &rec.IdempotencyKey, &rec.ResponseBody, &rec.StatusCode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return signet.IdempotencyRecord{}, ErrNotFound
	}
	if err != nil {
		return signet.IdempotencyRecord{}, err
	}
	rec.CreatedAt = createdAt
	return rec, nil
}

func (p *Postgres) Usage(ctx context.Context, tenant, month string) (signet.UsageCounter, error) {
	row := p.db.QueryRowContext(ctx, `SELECT vex, fu FROM usage_counters WHERE tenant = $1 AND month = $2`, tenant, month)
	var uc signet.UsageCounter
	uc.Tenant, uc.Month = tenant, month
	err := row.Scan(&uc.VEx, &uc.FU)
	if errors.Is(err, sql.ErrNoRows) {
		return uc, nil
	}
	return uc, err
}
