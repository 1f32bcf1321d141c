package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"dusd/observability/logging"
)

func TestAuthTokenLogRedactsSensitiveValues(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))

	sensitiveToken := "dusd-rpc-token-1f4c9e"
	logger.Info("RPC bearer auth enabled",
		logging.MaskField("auth_token", sensitiveToken))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log payload: %v", err)
	}

	if logging.IsAllowlisted("auth_token") {
		t.Fatalf("auth_token should not be allowlisted for logging: %v", logging.RedactionAllowlist())
	}

	raw := buf.Bytes()
	if bytes.Contains(raw, []byte(sensitiveToken)) {
		t.Fatalf("log output leaked auth token: %s", raw)
	}

	value, ok := entry["auth_token"].(string)
	if !ok {
		t.Fatalf("expected string auth_token attribute, got %T", entry["auth_token"])
	}
	if value != logging.RedactedValue {
		t.Fatalf("expected redacted auth token, got %q", value)
	}
}
