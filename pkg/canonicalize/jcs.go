// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization and content addressing for Signet exchanges.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// CIDPrefix is prepended to every content identifier.
const CIDPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with the standard library (respecting json tags),
// decoded into a generic tree with json.Number preserved, NFC-normalized
// on every string leaf and key per RFC 8785 §3.2.2.2, re-marshaled, and
// finally run through gowebpki/jcs for byte-exact key ordering and
// ECMA-262 number formatting.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	var generic interface{}
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: intermediate decode failed: %w", err)
	}

	normalized := normalizeStrings(generic)

	unnormalized, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("jcs: normalized marshal failed: %w", err)
	}

	canon, err := jcs.Transform(unnormalized)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canon, nil
}

// normalizeStrings walks a decoded JSON tree applying Unicode NFC
// normalization to every string key and value, leaving json.Number,
// bool, nil, and composite shapes otherwise untouched.
func normalizeStrings(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case json.Number:
		return t
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = normalizeStrings(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalizeStrings(val)
		}
		return out
	default:
		return v
	}
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON
// representation of v (without the "sha256:" prefix).
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CID computes the content identifier of v: "sha256:" + hex(sha256(canon(v))).
func CID(v interface{}) (string, error) {
	h, err := CanonicalHash(v)
	if err != nil {
		return "", err
	}
	return CIDPrefix + h, nil
}

// CIDFromBytes computes the content identifier of already-canonical bytes.
func CIDFromBytes(canon []byte) string {
	return CIDPrefix + HashBytes(canon)
}
