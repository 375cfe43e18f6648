package signetapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Maverick0351a/signet-protocol/pkg/export"
	"github.com/Maverick0351a/signet-protocol/pkg/pipeline"
	"github.com/Maverick0351a/signet-protocol/pkg/signet"
	"github.com/Maverick0351a/signet-protocol/pkg/signetcrypto"
)

// TenantResolver looks up a tenant's configuration by API key.
type TenantResolver interface {
	Resolve(apiKey string) (signet.TenantConfig, bool)
	GlobalAllowlist() []string
}

// Server wires the exchange pipeline, exporter, and key ring behind a
// plain net/http.ServeMux, following the teacher's preference for
// stdlib routing over a third-party router.
type Server struct {
	Pipeline  *pipeline.Pipeline
	Exporter  *export.Exporter
	KeyRing   *signetcrypto.KeyRing
	Tenants   TenantResolver
	AdminAuth *AdminAuth
	Logger    *slog.Logger

	mux *http.ServeMux
}

// NewServer builds the routed mux. Call Handler to get the
// http.Handler to pass to http.Server.
func NewServer(s *Server) *Server {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("POST /v1/exchange", s.handleExchange)
	mux.HandleFunc("GET /v1/receipts/chain/{trace_id}", s.handleChain)
	mux.HandleFunc("GET /v1/receipts/export/{trace_id}", s.handleExport)
	mux.Handle("POST /v1/admin/reload-reserved", s.AdminAuth.Middleware(http.HandlerFunc(s.handleReloadReserved)))
	s.mux = mux
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.KeyRing.KeySet())
}

func (s *Server) apiKeyFromRequest(r *http.Request) string {
	return r.Header.Get("X-Signet-Key")
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	apiKey := s.apiKeyFromRequest(r)
	tenant, ok := s.Tenants.Resolve(apiKey)
	if !ok {
		writeUnauthorized(w, r, "unknown or missing API key")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, pipeline.MaxPayloadBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large", "request body exceeds the configured limit", "", nil)
		return
	}

	var req signet.ExchangeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Bad Request", "request body is not valid JSON", "", nil)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	resp, status, err := s.Pipeline.Submit(r.Context(), tenant, s.Tenants.GlobalAllowlist(), idemKey, req)
	if err != nil {
		var sigErr *signet.Error
		if errors.As(err, &sigErr) {
			writeSignetError(w, r, sigErr)
			return
		}
		writeInternal(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-SIGNET-Trace", resp.TraceID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	apiKey := s.apiKeyFromRequest(r)
	tenant, ok := s.Tenants.Resolve(apiKey)
	if !ok {
		writeUnauthorized(w, r, "unknown or missing API key")
		return
	}

	traceID := r.PathValue("trace_id")
	chain, err := s.chainForTenant(r.Context(), tenant.TenantID, traceID)
	if err != nil {
		writeNotFound(w, r, "trace not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"trace_id": traceID, "chain": chain})
}

func (s *Server) chainForTenant(ctx context.Context, tenant, traceID string) ([]signet.Receipt, error) {
	chain, err := s.Exporter.ChainFor(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 || chain[0].Tenant != tenant {
		return nil, errors.New("not found")
	}
	return chain, nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	apiKey := s.apiKeyFromRequest(r)
	tenant, ok := s.Tenants.Resolve(apiKey)
	if !ok {
		writeUnauthorized(w, r, "unknown or missing API key")
		return
	}

	traceID := r.PathValue("trace_id")
	bundle, err := s.Exporter.Export(r.Context(), tenant.TenantID, traceID)
	if err != nil {
		if errors.Is(err, export.ErrEmptyChain) {
			writeNotFound(w, r, "trace not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-ODIN-Response-CID", bundle.BundleCID)
	w.Header().Set("X-ODIN-Signature", bundle.Signature)
	w.Header().Set("X-ODIN-KID", bundle.KID)
	_ = json.NewEncoder(w).Encode(bundle)
}

func (s *Server) handleReloadReserved(w http.ResponseWriter, r *http.Request) {
	// A resolver that can re-read its profiles (config.TenantStore) is
	// reloaded here; any other resolver is acknowledged unchanged.
	if reloader, ok := s.Tenants.(interface{ Reload() error }); ok {
		if err := reloader.Reload(); err != nil {
			writeInternal(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}
