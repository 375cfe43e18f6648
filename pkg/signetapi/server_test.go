package signetapi

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/Maverick0351a/signet-protocol/pkg/export"
	"github.com/Maverick0351a/signet-protocol/pkg/hel"
	"github.com/Maverick0351a/signet-protocol/pkg/invariants"
	"github.com/Maverick0351a/signet-protocol/pkg/mapping"
	"github.com/Maverick0351a/signet-protocol/pkg/pipeline"
	"github.com/Maverick0351a/signet-protocol/pkg/repair"
	"github.com/Maverick0351a/signet-protocol/pkg/signet"
	"github.com/Maverick0351a/signet-protocol/pkg/signetcrypto"
	"github.com/Maverick0351a/signet-protocol/pkg/store"
)

type fakeTenants struct {
	byKey  map[string]signet.TenantConfig
	global []string
}

func (f *fakeTenants) Resolve(apiKey string) (signet.TenantConfig, bool) {
	t, ok := f.byKey[apiKey]
	return t, ok
}

func (f *fakeTenants) GlobalAllowlist() []string { return f.global }

const adminSecret = "test-admin-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	s, err := store.NewSQLite(db)
	require.NoError(t, err)

	reg, err := mapping.NewRegistry()
	require.NoError(t, err)

	ring := signetcrypto.NewKeyRing()
	signer, err := signetcrypto.NewEd25519Signer("kid-1")
	require.NoError(t, err)
	ring.AddKey(signer)

	inv, err := invariants.NewDefault()
	require.NoError(t, err)

	p := pipeline.New(pipeline.Deps{
		Store:      s,
		Registry:   reg,
		KeyRing:    ring,
		HEL:        hel.NewEngine(),
		Forwarder:  hel.NewForwarder(),
		Repairer:   &repair.Fake{},
		Invariants: inv,
	})

	exp := export.New(s, ring, nil)

	tenants := &fakeTenants{byKey: map[string]signet.TenantConfig{
		"key-1": {TenantID: "acme", APIKey: "key-1"},
	}}

	return NewServer(&Server{
		Pipeline:  p,
		Exporter:  exp,
		KeyRing:   ring,
		Tenants:   tenants,
		AdminAuth: NewAdminAuth(adminSecret),
	})
}

func invoiceBody(args string) []byte {
	req := signet.ExchangeRequest{
		SourceType: "openai.tooluse.invoice.v1",
		TargetType: "invoice.iso20022.v1",
		Payload: map[string]interface{}{
			"tool_calls": []interface{}{
				map[string]interface{}{
					"function": map[string]interface{}{"arguments": args},
				},
			},
		},
	}
	b, _ := json.Marshal(req)
	return b
}

func TestHealthz_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestJWKS_PublishesActiveKey(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var ks signet.KeySet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ks))
	require.NotEmpty(t, ks.Keys)
}

func TestExchange_MissingAPIKeyIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/exchange", bytes.NewReader(invoiceBody(`{"invoice_id":"INV-1","amount":100,"currency":"USD"}`)))
	req.Header.Set("Idempotency-Key", "idem-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExchange_HappyPathReturnsReceipt(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/exchange", bytes.NewReader(invoiceBody(`{"invoice_id":"INV-1","amount":100,"currency":"USD"}`)))
	req.Header.Set("X-Signet-Key", "key-1")
	req.Header.Set("Idempotency-Key", "idem-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp signet.ExchangeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Receipt.Hop)
}

func TestExchange_MalformedJSONBodyIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/exchange", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Signet-Key", "key-1")
	req.Header.Set("Idempotency-Key", "idem-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChain_ReturnsPersistedReceipts(t *testing.T) {
	s := newTestServer(t)
	exReq := httptest.NewRequest(http.MethodPost, "/v1/exchange", bytes.NewReader(invoiceBody(`{"invoice_id":"INV-1","amount":100,"currency":"USD"}`)))
	exReq.Header.Set("X-Signet-Key", "key-1")
	exReq.Header.Set("Idempotency-Key", "idem-1")
	exW := httptest.NewRecorder()
	s.Handler().ServeHTTP(exW, exReq)
	require.Equal(t, http.StatusOK, exW.Code)

	var resp signet.ExchangeResponse
	require.NoError(t, json.Unmarshal(exW.Body.Bytes(), &resp))

	chainReq := httptest.NewRequest(http.MethodGet, "/v1/receipts/chain/"+resp.TraceID, nil)
	chainReq.Header.Set("X-Signet-Key", "key-1")
	chainW := httptest.NewRecorder()
	s.Handler().ServeHTTP(chainW, chainReq)
	require.Equal(t, http.StatusOK, chainW.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(chainW.Body.Bytes(), &body))
	chain, ok := body["chain"].([]interface{})
	require.True(t, ok)
	require.Len(t, chain, 1)
}

func TestChain_UnknownTraceIsNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/receipts/chain/missing", nil)
	req.Header.Set("X-Signet-Key", "key-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportBundle_ReturnsSignedBundle(t *testing.T) {
	s := newTestServer(t)
	exReq := httptest.NewRequest(http.MethodPost, "/v1/exchange", bytes.NewReader(invoiceBody(`{"invoice_id":"INV-1","amount":100,"currency":"USD"}`)))
	exReq.Header.Set("X-Signet-Key", "key-1")
	exReq.Header.Set("Idempotency-Key", "idem-1")
	exW := httptest.NewRecorder()
	s.Handler().ServeHTTP(exW, exReq)

	var resp signet.ExchangeResponse
	require.NoError(t, json.Unmarshal(exW.Body.Bytes(), &resp))

	bundleReq := httptest.NewRequest(http.MethodGet, "/v1/receipts/export/"+resp.TraceID, nil)
	bundleReq.Header.Set("X-Signet-Key", "key-1")
	bundleW := httptest.NewRecorder()
	s.Handler().ServeHTTP(bundleW, bundleReq)
	require.Equal(t, http.StatusOK, bundleW.Code)

	var bundle signet.ExportBundle
	require.NoError(t, json.Unmarshal(bundleW.Body.Bytes(), &bundle))
	require.NotEmpty(t, bundle.Signature)
}

func adminToken(t *testing.T, roles ...string) string {
	t.Helper()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return signed
}

func TestReloadReserved_RejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/reload-reserved", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReloadReserved_RejectsNonAdminRole(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/reload-reserved", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "viewer"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReloadReserved_AcceptsAdminToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/reload-reserved", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
}
