package main

import (
	"fmt"
	"io"
	"net/http"
)

func runHealthCmd(out, errOut io.Writer) int {
	resp, err := http.Get("http://localhost:8080/healthz")
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	_, _ = fmt.Fprintln(out, "OK")
	return 0
}
