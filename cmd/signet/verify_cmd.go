package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Maverick0351a/signet-protocol/pkg/canonicalize"
	"github.com/Maverick0351a/signet-protocol/pkg/signet"
	"github.com/Maverick0351a/signet-protocol/pkg/signetcrypto"
)

// runVerifyCmd implements `signet verify`: checks a previously exported
// bundle's signature and bundle CID against a server's published JWKS,
// entirely offline from the receipts themselves.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath string
		jwksURL    string
		jsonOutput bool
	)

	cmd.StringVar(&bundlePath, "bundle", "", "Path to an exported bundle JSON file (REQUIRED)")
	cmd.StringVar(&jwksURL, "jwks-url", "http://localhost:8080/.well-known/jwks.json", "URL of the signer's published JWKS")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --bundle is required")
		return 2
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading bundle: %v\n", err)
		return 2
	}

	var bundle signet.ExportBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error parsing bundle: %v\n", err)
		return 2
	}

	pubKeyHex, err := fetchPublicKeyHex(jwksURL, bundle.KID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error fetching signing key: %v\n", err)
		return 2
	}

	ok, reason := verifyBundle(bundle, pubKeyHex)

	if jsonOutput {
		result := map[string]any{
			"bundle":   bundlePath,
			"trace_id": bundle.TraceID,
			"valid":    ok,
		}
		if reason != "" {
			result["reason"] = reason
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	} else if ok {
		_, _ = fmt.Fprintf(stdout, "bundle verified: trace %s, %d receipts\n", bundle.TraceID, len(bundle.Chain))
	} else {
		_, _ = fmt.Fprintf(stdout, "bundle verification FAILED: %s\n", reason)
	}

	if !ok {
		return 1
	}
	return 0
}

func fetchPublicKeyHex(jwksURL, kid string) (string, error) {
	resp, err := http.Get(jwksURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var set signet.KeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return "", fmt.Errorf("decode jwks: %w", err)
	}

	for _, k := range set.Keys {
		if k.KID == kid {
			raw, err := base64.RawURLEncoding.DecodeString(k.X)
			if err != nil {
				return "", fmt.Errorf("decode key %q: %w", kid, err)
			}
			return hex.EncodeToString(raw), nil
		}
	}
	return "", fmt.Errorf("kid %q not found in jwks", kid)
}

// verifyBundle recomputes the bundle CID over the same sealable subset
// the exporter signs over, then checks the detached signature against
// pubKeyHex. The key set must match pkg/export.sealable exactly; JCS
// fixes the key order.
func verifyBundle(b signet.ExportBundle, pubKeyHex string) (bool, string) {
	sealable := map[string]interface{}{
		"trace_id":    b.TraceID,
		"chain":       b.Chain,
		"exported_at": b.ExportedAt,
	}

	cid, err := canonicalize.CID(sealable)
	if err != nil {
		return false, fmt.Sprintf("canonicalize bundle: %v", err)
	}
	if cid != b.BundleCID {
		return false, "bundle_cid mismatch: bundle contents do not match the sealed CID"
	}

	signable, err := canonicalize.JCSString(sealable)
	if err != nil {
		return false, fmt.Sprintf("canonicalize for signature check: %v", err)
	}
	ok, err := signetcrypto.Verify(pubKeyHex, b.Signature, []byte(signable))
	if err != nil {
		return false, fmt.Sprintf("signature check error: %v", err)
	}
	if !ok {
		return false, "signature does not verify against the published key"
	}
	return true, ""
}
