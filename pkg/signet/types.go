// Package signet holds the core domain types shared across the exchange
// pipeline and its supporting subsystems: receipts, tenant configuration,
// usage accounting, and the exchange request/response envelope.
package signet

import "time"

// Receipt is the normative, append-only record of one verified exchange.
// Field order and JSON tags follow the wire contract exactly; Signature
// and Hash are computed over the canonical form with Hash/Signature
// themselves excluded.
type Receipt struct {
	TraceID           string       `json:"trace_id"`
	Hop               int          `json:"hop"`
	Timestamp         time.Time    `json:"ts"`
	Tenant            string       `json:"tenant"`
	CID               string       `json:"cid"`
	Canon             string       `json:"canon"`
	Algo              string       `json:"algo"`
	PrevReceiptHash   *string      `json:"prev_receipt_hash"`
	ReceiptHash       string       `json:"receipt_hash,omitempty"`
	Policy            PolicyResult `json:"policy"`
	Forwarded         *Forwarded   `json:"forwarded,omitempty"`
	FallbackUsed      bool         `json:"fallback_used,omitempty"`
	FUTokens          int64        `json:"fu_tokens,omitempty"`
	SemanticViolations []string    `json:"semantic_violations,omitempty"`
	Signature         string       `json:"signature,omitempty"`
	KID               string       `json:"kid,omitempty"`
}

// PolicyResult is the HEL policy evaluation outcome recorded on every receipt.
type PolicyResult struct {
	Engine  string `json:"engine"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Forwarded records the outcome of a best-effort pinned forward attempt.
type Forwarded struct {
	URL          string `json:"url"`
	StatusCode   int    `json:"status_code"`
	Host         string `json:"host"`
	PinnedIP     string `json:"pinned_ip"`
	ResponseSize int64  `json:"response_size"`
	Error        string `json:"error,omitempty"`
}

// TenantConfig describes one API-key-bound tenant's policy and limits.
type TenantConfig struct {
	TenantID           string
	APIKey             string
	Allowlist          []string
	FallbackEnabled    bool
	FUMonthlyLimit     int64 // <= 0 means unlimited
	VExBillingItem     string
	FUBillingItem      string
	MinClientVersion   string // optional; stored as given, not parsed or validated
	ReservedVEx        int64
	ReservedFU         int64
	OverageTiers       []OverageTier
}

// OverageTier is one band of a tiered-overage billing schedule. Tiers are
// ordered and strictly increasing by Threshold; the final tier's effective
// upper bound is +Inf.
type OverageTier struct {
	Threshold   int64
	PricePerUnit float64
	BillingItem string
}

// GlobalAllowlist is the process-wide egress allowlist, unioned with each
// tenant's own allowlist during HEL evaluation.
type GlobalAllowlist struct {
	Hosts []string
}

// ExchangeRequest is the parsed body of POST /v1/exchange.
type ExchangeRequest struct {
	SourceType string                 `json:"source_type"`
	TargetType string                 `json:"target_type"`
	TraceID    string                 `json:"trace_id,omitempty"`
	Payload    map[string]interface{} `json:"payload"`
	ForwardURL string                 `json:"forward_url,omitempty"`
}

// ExchangeResponse is the body of a successful POST /v1/exchange response.
type ExchangeResponse struct {
	TraceID    string                 `json:"trace_id"`
	Normalized map[string]interface{} `json:"normalized"`
	Receipt    Receipt                `json:"receipt"`
	Forwarded  *Forwarded             `json:"forwarded,omitempty"`
}

// IdempotencyRecord caches the response previously returned for a given
// (api_key, idempotency_key) pair.
type IdempotencyRecord struct {
	APIKey         string
	IdempotencyKey string
	ResponseBody   []byte
	StatusCode     int
	CreatedAt      time.Time
}

// UsageCounter is the month-to-date accounting bucket for one tenant.
type UsageCounter struct {
	Tenant string
	Month  string // "2026-07"
	VEx    int64
	FU     int64
}

// ExportBundle is a signed snapshot of a full receipt chain.
type ExportBundle struct {
	TraceID    string    `json:"trace_id"`
	Chain      []Receipt `json:"chain"`
	ExportedAt time.Time `json:"exported_at"`
	BundleCID  string    `json:"bundle_cid"`
	Signature  string    `json:"signature"`
	KID        string    `json:"kid"`
}

// KeySet is the published JWKS-shaped view of the active signer and any
// prior keys still valid for verification.
type KeySet struct {
	Keys []PublicKeyEntry `json:"keys"`
}

// PublicKeyEntry is one key in a published key set.
type PublicKeyEntry struct {
	KTY string `json:"kty"`
	CRV string `json:"crv"`
	KID string `json:"kid"`
	X   string `json:"x"` // base64url-encoded Ed25519 public key
}

// Month formats a time.Time as the "YYYY-MM" usage-counter bucket key.
func Month(t time.Time) string {
	return t.UTC().Format("2006-01")
}
