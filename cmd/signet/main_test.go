package main

import (
	"bytes"
	"testing"
)

func TestRun_HelpPrintsUsageAndExitsZero(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"signet", "help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if stdout.Len() == 0 {
		t.Fatal("expected usage text on stdout")
	}
}

func TestRun_UnknownCommandExitsTwo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"signet", "bogus"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected an error message on stderr")
	}
}

func TestRun_ExportMissingFlagsExitsTwo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"signet", "export"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestRun_VerifyMissingFlagsExitsTwo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"signet", "verify"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestRun_HealthUnreachableServerExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"signet", "health"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1 (no server running), got %d", code)
	}
}
