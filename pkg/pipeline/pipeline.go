// Package pipeline orchestrates the submit_exchange operation: the
// single entry point that turns an opaque tool-call payload into a
// signed, chained receipt and an optional forwarded call.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Maverick0351a/signet-protocol/pkg/billing"
	"github.com/Maverick0351a/signet-protocol/pkg/canonicalize"
	"github.com/Maverick0351a/signet-protocol/pkg/hel"
	"github.com/Maverick0351a/signet-protocol/pkg/invariants"
	"github.com/Maverick0351a/signet-protocol/pkg/mapping"
	"github.com/Maverick0351a/signet-protocol/pkg/repair"
	"github.com/Maverick0351a/signet-protocol/pkg/signet"
	"github.com/Maverick0351a/signet-protocol/pkg/signetcrypto"
	"github.com/Maverick0351a/signet-protocol/pkg/store"
)

// MaxPayloadBytes bounds the size of an incoming request before any
// parsing is attempted.
const MaxPayloadBytes = 1 << 20

// Deps bundles every collaborator the pipeline calls, so the orchestrator
// itself stays free of construction logic.
type Deps struct {
	Store      store.Port
	Registry   *mapping.Registry
	KeyRing    *signetcrypto.KeyRing
	HEL        *hel.Engine
	Forwarder  *hel.Forwarder
	Repairer   repair.Repairer
	Invariants *invariants.Validator
	Billing    *billing.Buffer
	Logger     *slog.Logger
}

// Pipeline runs submit_exchange against one set of Deps.
type Pipeline struct {
	deps Deps
}

// New builds a Pipeline from deps, filling in a default logger if none
// was supplied.
func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{deps: deps}
}

// Submit runs the full submit_exchange sequence for tenant against req,
// using idemKey for replay detection.
func (p *Pipeline) Submit(ctx context.Context, tenant signet.TenantConfig, globalAllowlist []string, idemKey string, req signet.ExchangeRequest) (signet.ExchangeResponse, int, error) {
	if idemKey == "" {
		return signet.ExchangeResponse{}, 0, signet.NewBadRequest("idempotency key is required")
	}

	// Step 1: idempotency check.
	if rec, err := p.deps.Store.LookupIdempotent(ctx, tenant.TenantID, idemKey); err == nil {
		var resp signet.ExchangeResponse
		if err := json.Unmarshal(rec.ResponseBody, &resp); err != nil {
			return signet.ExchangeResponse{}, 0, signet.NewStorageError("decode cached idempotent response", err)
		}
		return resp, rec.StatusCode, nil
	} else if err != store.ErrNotFound {
		return signet.ExchangeResponse{}, 0, signet.NewStorageError("idempotency lookup", err)
	}

	// Step 2/3/4: validate shape and extract the tool-call argument text.
	if req.SourceType == "" || req.TargetType == "" || req.Payload == nil {
		return signet.ExchangeResponse{}, 0, signet.NewBadRequest("source_type, target_type, and payload are required")
	}

	m, ok := p.deps.Registry.Lookup(req.SourceType, req.TargetType)
	if !ok {
		return signet.ExchangeResponse{}, 0, signet.NewUnsupportedMapping(req.SourceType, req.TargetType)
	}

	parsed, fallbackUsed, fuTokens, err := p.resolveArguments(ctx, tenant, req.Payload)
	if err != nil {
		return signet.ExchangeResponse{}, 0, err
	}

	// Step 7: input schema validation.
	if err := m.ValidateInput(parsed); err != nil {
		return signet.ExchangeResponse{}, 0, signet.NewValidationError("input_schema", "payload failed input schema validation", err.Error())
	}

	// Step 8/9: transform + output schema validation.
	normalized, err := m.Apply(ctx, parsed)
	if err != nil {
		return signet.ExchangeResponse{}, 0, signet.NewValidationError("normalized_schema", "transform output failed validation", err.Error())
	}

	// Step 10: policy evaluation (only if a forward target was given).
	policy := signet.PolicyResult{Engine: "HEL", Allowed: true, Reason: hel.ReasonOK}
	var decision hel.Decision
	if req.ForwardURL != "" {
		decision = p.deps.HEL.Evaluate(req.ForwardURL, tenant.Allowlist, globalAllowlist)
		policy = signet.PolicyResult{Engine: "HEL", Allowed: decision.Allowed, Reason: decision.Reason}
	}

	// Step 11: canonicalize + CID.
	cid, err := canonicalize.CID(normalized)
	if err != nil {
		return signet.ExchangeResponse{}, 0, signet.NewStorageError("canonicalize normalized payload", err)
	}
	canon, err := canonicalize.JCSString(normalized)
	if err != nil {
		return signet.ExchangeResponse{}, 0, signet.NewStorageError("canonicalize normalized payload", err)
	}

	// Step 12: assemble the receipt, resolving hop/prev from the chain tail.
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	hop := 1
	var prevHash *string
	if tail, err := p.deps.Store.Tail(ctx, traceID); err == nil {
		hop = tail.Hop + 1
		h := tail.ReceiptHash
		prevHash = &h
	} else if err != store.ErrNotFound {
		return signet.ExchangeResponse{}, 0, signet.NewStorageError("read chain tail", err)
	}

	receipt := signet.Receipt{
		TraceID:         traceID,
		Hop:             hop,
		Timestamp:       nowUTC(),
		Tenant:          tenant.TenantID,
		CID:             cid,
		Canon:           canon,
		Algo:            "sha256",
		PrevReceiptHash: prevHash,
		Policy:          policy,
		FallbackUsed:    fallbackUsed,
		FUTokens:        fuTokens,
	}

	// Step 13/14: hash + sign.
	if err := p.deps.KeyRing.SignReceipt(&receipt); err != nil {
		return signet.ExchangeResponse{}, 0, signet.NewStorageError("sign receipt", err)
	}

	// Step 16: best-effort forward, recorded before persistence so the
	// stored receipt already reflects the outcome.
	if req.ForwardURL != "" && decision.Allowed {
		body, _ := json.Marshal(normalized)
		result := p.deps.Forwarder.Forward(ctx, decision.Host, decision.SelectedAddress, body)
		receipt.Forwarded = &signet.Forwarded{
			URL: req.ForwardURL, Host: decision.Host, PinnedIP: decision.SelectedAddress,
			StatusCode: result.StatusCode, ResponseSize: result.ResponseSize, Error: result.Error,
		}
	}

	resp := signet.ExchangeResponse{TraceID: traceID, Normalized: normalized, Receipt: receipt, Forwarded: receipt.Forwarded}
	respBody, err := json.Marshal(resp)
	if err != nil {
		return signet.ExchangeResponse{}, 0, signet.NewStorageError("marshal response", err)
	}

	// Step 15: atomic persist (append + idempotency + usage).
	err = p.deps.Store.AppendReceipt(ctx, receipt, idemKey, respBody, 200, 1, fuTokens)
	if err != nil {
		if err == store.ErrChainConflict {
			return signet.ExchangeResponse{}, 0, signet.NewChainConflict(traceID)
		}
		return signet.ExchangeResponse{}, 0, signet.NewStorageError("append receipt", err)
	}

	// Step 17: metering enqueue. The authoritative VEx/FU counters were
	// already incremented atomically inside AppendReceipt; this queue
	// only notifies whatever downstream billing system (invoicing,
	// dashboards) wants the same delta asynchronously.
	if p.deps.Billing != nil {
		p.deps.Billing.Enqueue(billing.Entry{
			Tenant: tenant.TenantID, Month: signet.Month(receipt.Timestamp),
			VExDelta: 1, FUDelta: fuTokens,
			Flush: func(context.Context, int64, int64) error { return nil },
		})
	}

	return resp, 200, nil
}

// resolveArguments extracts payload.tool_calls[0].function.arguments and
// parses it, running fallback repair on strict-parse failure per steps
// 4-6.
func (p *Pipeline) resolveArguments(ctx context.Context, tenant signet.TenantConfig, payload map[string]interface{}) (parsed map[string]interface{}, fallbackUsed bool, fuTokens int64, err error) {
	argsText, err := extractArguments(payload)
	if err != nil {
		return nil, false, 0, signet.NewBadRequest(err.Error())
	}

	if parsed, strictErr := repair.ParseRepaired(argsText); strictErr == nil {
		return parsed, false, 0, nil
	}

	if !tenant.FallbackEnabled {
		return nil, false, 0, signet.NewValidationError("arguments_parse", "arguments parse failed", nil)
	}

	estimate := repair.EstimateTokens(argsText)
	usage, uerr := p.deps.Store.Usage(ctx, tenant.TenantID, signet.Month(nowUTC()))
	if uerr != nil {
		return nil, false, 0, signet.NewStorageError("read usage for quota check", uerr)
	}
	if tenant.FUMonthlyLimit > 0 && usage.FU+estimate > tenant.FUMonthlyLimit {
		return nil, false, 0, signet.NewQuotaExceeded("FU")
	}

	result, rerr := p.deps.Repairer.Repair(ctx, argsText, "")
	if rerr != nil {
		return nil, false, 0, signet.NewValidationError("repair_failed", rerr.Error(), nil)
	}

	requiredFields := []string{}
	before := invariants.RecoverBeforeState(argsText, requiredFields)
	after := invariants.AfterState(result.Repaired)
	violations, verr := p.deps.Invariants.Evaluate(before, after)
	if verr != nil {
		return nil, false, 0, signet.NewStorageError("evaluate semantic invariants", verr)
	}
	if len(violations) > 0 {
		return nil, false, 0, signet.NewValidationError("semantic_invariants", "repair violated semantic invariants", violations)
	}

	return result.Repaired, true, result.TokensUsed, nil
}

func extractArguments(payload map[string]interface{}) (string, error) {
	toolCalls, ok := payload["tool_calls"].([]interface{})
	if !ok || len(toolCalls) == 0 {
		return "", fmt.Errorf("payload.tool_calls[0] is required")
	}
	first, ok := toolCalls[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("payload.tool_calls[0] must be an object")
	}
	fn, ok := first["function"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("payload.tool_calls[0].function is required")
	}
	args, ok := fn["arguments"].(string)
	if !ok {
		return "", fmt.Errorf("payload.tool_calls[0].function.arguments must be a string")
	}
	return args, nil
}
