package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

// runExportCmd implements `signet export`: fetches a signed export bundle
// for a trace from a running Signet server and writes it to disk.
//
// Exit codes:
//
//	0 = export completed
//	1 = server returned a non-2xx response
//	2 = runtime error (bad flags, network failure)
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		baseURL string
		apiKey  string
		traceID string
		outPath string
	)

	cmd.StringVar(&baseURL, "url", "http://localhost:8080", "Signet server base URL")
	cmd.StringVar(&apiKey, "api-key", "", "Tenant API key (REQUIRED)")
	cmd.StringVar(&traceID, "trace", "", "Trace ID to export (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output path for the bundle JSON (default: stdout)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if apiKey == "" || traceID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --api-key and --trace are required")
		return 2
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/receipts/export/"+traceID, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error building request: %v\n", err)
		return 2
	}
	req.Header.Set("X-Signet-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reaching server: %v\n", err)
		return 2
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading response: %v\n", err)
		return 2
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Export failed: status %d: %s\n", resp.StatusCode, string(body))
		return 1
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err == nil {
		body, _ = json.MarshalIndent(pretty, "", "  ")
	}

	if outPath == "" {
		_, _ = fmt.Fprintln(stdout, string(body))
		return 0
	}

	if err := os.WriteFile(outPath, body, 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error writing bundle: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Exported bundle written to %s\n", outPath)
	return 0
}
