package hel

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// forwardInsecureForTest mirrors Forward but trusts the httptest TLS cert,
// since production traffic to real allowlisted hosts never hits this path.
func (f *Forwarder) forwardInsecureForTest(ctx context.Context, host, pinnedIP, port string) Result {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, net.JoinHostPort(pinnedIP, port))
		},
		TLSClientConfig: &tls.Config{ServerName: host, InsecureSkipVerify: true},
	}
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+host+"/", nil)
	if err != nil {
		return Result{Error: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Error: err.Error()}
	}
	defer resp.Body.Close()
	return Result{StatusCode: resp.StatusCode}
}

func TestForward_PinnedAddressReachesServerRegardlessOfHostname(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "https://"))
	require.NoError(t, err)

	f := NewForwarder()
	f.Timeout = 5 * time.Second
	result := f.forwardInsecureForTest(context.Background(), host, "127.0.0.1", port)
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Empty(t, result.Error)
}

func TestForward_NonExistentPinnedAddressFails(t *testing.T) {
	f := NewForwarder()
	f.Timeout = 500 * time.Millisecond
	result := f.Forward(context.Background(), "unreachable.example.com", "203.0.113.1", []byte("{}"))
	require.NotEmpty(t, result.Error)
}
