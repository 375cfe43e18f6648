// Package repair implements the fallback repair step: when a tool-call
// payload fails to parse as JSON, a narrow repair capability gets one
// attempt to produce valid JSON before the exchange is rejected outright.
package repair

import (
	"context"
	"encoding/json"
	"fmt"
)

// Result carries the repaired JSON object plus the token count to meter
// against the tenant's FU budget.
type Result struct {
	Repaired   map[string]interface{}
	RawText    string
	TokensUsed int64
}

// Repairer is the single capability the pipeline depends on. It is
// intentionally narrower than a general chat client: one method, one
// job, so a deterministic test double needs no HTTP stack at all.
type Repairer interface {
	Repair(ctx context.Context, malformed string, targetSchema string) (Result, error)
}

// EstimateTokens approximates token usage for the pipeline's FU quota
// check and for provider responses that carry no usage field: roughly
// four characters per token.
func EstimateTokens(text string) int64 {
	return int64(len(text)/4) + 1
}

// ParseRepaired attempts to decode raw as a JSON object, returning a
// typed error the pipeline can surface as a validation failure rather
// than a raw decode panic.
func ParseRepaired(raw string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("repair: repaired text is not a JSON object: %w", err)
	}
	return out, nil
}
