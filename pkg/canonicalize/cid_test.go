package canonicalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCID_HasSha256Prefix(t *testing.T) {
	id, err := CID(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, CIDPrefix))
	require.Len(t, strings.TrimPrefix(id, CIDPrefix), 64)
}

func TestCID_DeterministicAcrossKeyOrder(t *testing.T) {
	v1 := map[string]interface{}{"b": 2, "a": 1}
	v2 := map[string]interface{}{"a": 1, "b": 2}

	id1, err := CID(v1)
	require.NoError(t, err)
	id2, err := CID(v2)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestJCS_NFCNormalizesStrings(t *testing.T) {
	// "é" as a single code point (NFC) vs "e" + combining acute accent (NFD).
	nfc := "café"
	nfd := "café"
	require.NotEqual(t, nfc, nfd)

	b1, err := JCS(map[string]string{"name": nfc})
	require.NoError(t, err)
	b2, err := JCS(map[string]string{"name": nfd})
	require.NoError(t, err)
	require.Equal(t, string(b1), string(b2))
}

func TestJCS_IdempotentOnReparse(t *testing.T) {
	// canon(canon_parsed(v)) == canon(v)
	inputs := []interface{}{
		map[string]interface{}{"z": 1, "a": "hello", "nested": map[string]interface{}{"k": 2.5}},
		[]interface{}{3, 1, 2},
		"plain string",
		json.Number("42"),
	}
	for _, v := range inputs {
		b1, err := JCS(v)
		require.NoError(t, err)

		var reparsed interface{}
		dec := json.NewDecoder(bytes.NewReader(b1))
		dec.UseNumber()
		require.NoError(t, dec.Decode(&reparsed))

		b2, err := JCS(reparsed)
		require.NoError(t, err)
		require.Equal(t, string(b1), string(b2))
	}
}
