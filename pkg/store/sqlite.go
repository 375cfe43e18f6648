package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"

	_ "modernc.org/sqlite"
)

// SQLite is the development/single-node storage engine.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite-backed store at db and migrates
// its schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			trace_id TEXT NOT NULL,
			hop INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			tenant TEXT NOT NULL,
			cid TEXT NOT NULL,
			canon TEXT NOT NULL,
			algo TEXT NOT NULL,
			prev_receipt_hash TEXT,
			receipt_hash TEXT NOT NULL,
			policy_engine TEXT,
			policy_reason TEXT,
			policy_allowed INTEGER,
			forwarded_json TEXT,
			fallback_used INTEGER NOT NULL DEFAULT 0,
			fu_tokens INTEGER NOT NULL DEFAULT 0,
			semantic_violations TEXT,
			signature TEXT NOT NULL,
			kid TEXT NOT NULL,
			PRIMARY KEY (trace_id, hop)
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency (
			api_key TEXT NOT NULL,
			idem_key TEXT NOT NULL,
			response_body BLOB NOT NULL,
			status_code INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (api_key, idem_key)
		)`,
		`CREATE TABLE IF NOT EXISTS usage_counters (
			tenant TEXT NOT NULL,
			month TEXT NOT NULL,
			vex INTEGER NOT NULL DEFAULT 0,
			fu INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant, month)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) AppendReceipt(ctx context.Context, r signet.Receipt, idemKey string, responseBody []byte, statusCode int, vexDelta, fuDelta int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentTail sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT receipt_hash FROM receipts WHERE trace_id = ? ORDER BY hop DESC LIMIT 1`,
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TraceID, r.Hop, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Tenant, r.CID, r.Canon, r.Algo,
		r.PrevReceiptHash, r.ReceiptHash, r.Policy.Engine, r.Policy.Reason, boolToInt(r.Policy.Allowed),
		forwardedJSON, boolToInt(r.FallbackUsed), r.FUTokens, violationsJSON, r.Signature, r.KID,
	)
	if err != nil {
		return fmt.Errorf("store: insert receipt: %w", err)
	}

	if idemKey != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO idempotency (api_key, idem_key, response_body, status_code, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (api_key, idem_key) DO NOTHING`,
			r.Tenant, idemKey, responseBody, statusCode, nowUTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("store: upsert idempotency: %w", err)
		}
	}

	month := signet.Month(r.Timestamp)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_counters (tenant, month, vex, fu) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant, month) DO UPDATE SET vex = vex + excluded.vex, fu = fu + excluded.fu`,
		r.Tenant, month, vexDelta, fuDelta,
	)
	if err != nil {
		return fmt.Errorf("store: increment usage: %w", err)
	}

	return tx.Commit()
}

func (s *SQLite) Chain(ctx context.Context, traceID string) ([]signet.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, receiptColumns(`SELECT`)+` FROM receipts WHERE trace_id = ? ORDER BY hop ASC`, traceID)
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

func (s *SQLite) Tail(ctx context.Context, traceID string) (signet.Receipt, error) {
	row := s.db.QueryRowContext(ctx, receiptColumns(`SELECT`)+` FROM receipts WHERE trace_id = ? ORDER BY hop DESC LIMIT 1`, traceID)
	r, err := scanReceiptRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return signet.Receipt{}, ErrNotFound
	}
	return r, err
}

func (s *SQLite) LookupIdempotent(ctx context.Context, apiKey, idemKey string) (signet.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT api_key, idem_key, response_body, status_code, created_at FROM idempotency WHERE api_key = ? AND idem_key = ?`,
		apiKey, idemKey,
	)
	var rec signet.IdempotencyRecord
	var createdAt string
	err := row.Scan(&rec.APIKey, &rec.IdempotencyKey, &rec.ResponseBody, &rec.StatusCode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return signet.IdempotencyRecord{}, ErrNotFound
	}
	if err != nil {
		return signet.IdempotencyRecord{}, err
	}
	rec.CreatedAt = parseTimestamp(createdAt)
	return rec, nil
}

func (s *SQLite) Usage(ctx context.Context, tenant, month string) (signet.UsageCounter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT vex, fu FROM usage_counters WHERE tenant = ? AND month = ?`, tenant, month)
	var uc signet.UsageCounter
	uc.Tenant, uc.Month = tenant, month
	err := row.Scan(&uc.VEx, &uc.FU)
	if errors.Is(err, sql.ErrNoRows) {
		return uc, nil
	}
	return uc, err
}

func receiptColumns(prefix string) string {
	return prefix + ` trace_id, hop, timestamp, tenant, cid, canon, algo, prev_receipt_hash,
		receipt_hash, policy_engine, policy_reason, policy_allowed,
		forwarded_json, fallback_used, fu_tokens, semantic_violations, signature, kid`
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(rows *sql.Rows) (signet.Receipt, error) {
	return scanReceiptRow(rows)
}

func scanReceiptRow(row rowScanner) (signet.Receipt, error) {
	var (
		r              signet.Receipt
		timestamp      string
		prevHash       sql.NullString
		policyAllowed  sql.NullInt64
		forwardedJSON  sql.NullString
		fallbackUsed   int64
		violationsJSON sql.NullString
	)
	err := row.Scan(
		&r.TraceID, &r.Hop, &timestamp, &r.Tenant, &r.CID, &r.Canon, &r.Algo, &prevHash,
		&r.ReceiptHash, &r.Policy.Engine, &r.Policy.Reason, &policyAllowed,
		&forwardedJSON, &fallbackUsed, &r.FUTokens, &violationsJSON, &r.Signature, &r.KID,
	)
	if err != nil {
		return signet.Receipt{}, err
	}
	r.Timestamp = parseTimestamp(timestamp)
	if prevHash.Valid {
		v := prevHash.String
		r.PrevReceiptHash = &v
	}
	r.Policy.Allowed = policyAllowed.Int64 != 0
	r.FallbackUsed = fallbackUsed != 0
	r.Forwarded, err = unmarshalForwarded(forwardedJSON)
	if err != nil {
		return signet.Receipt{}, err
	}
	r.SemanticViolations, err = unmarshalStrings(violationsJSON)
	if err != nil {
		return signet.Receipt{}, err
	}
	return r, nil
}

func parseTimestamp(v string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, v)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
