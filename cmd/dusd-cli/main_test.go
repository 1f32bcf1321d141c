package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w
	resultCh := make(chan struct {
		data string
		err  error
	})
	go func() {
		data, err := io.ReadAll(r)
		resultCh <- struct {
			data string
			err  error
		}{data: string(data), err: err}
	}()
	fn()
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	os.Stdout = old
	result := <-resultCh
	if err := r.Close(); err != nil {
		t.Fatalf("failed to close reader: %v", err)
	}
	if result.err != nil {
		t.Fatalf("failed to read stdout: %v", result.err)
	}
	return result.data
}

func stubTransport(t *testing.T, fn roundTripperFunc) {
	t.Helper()
	original := http.DefaultClient
	http.DefaultClient = &http.Client{Transport: fn}
	t.Cleanup(func() { http.DefaultClient = original })
}

func TestQueryDialErrorIncludesEndpointAndCause(t *testing.T) {
	originalEndpoint := rpcEndpoint
	rpcEndpoint = "http://test.invalid"
	defer func() { rpcEndpoint = originalEndpoint }()

	stubTransport(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp 127.0.0.1:8080: connect: connection refused (test stub)")
	})

	output := captureStdout(t, func() {
		runQuery("vault_getProtocolStatus", nil)
	})

	if !strings.Contains(output, "POST http://test.invalid") {
		t.Fatalf("expected output to include endpoint, got %q", output)
	}
	if !strings.Contains(output, "connection refused (test stub)") {
		t.Fatalf("expected output to include underlying error, got %q", output)
	}
}

func TestQueryPrintsIndentedResult(t *testing.T) {
	stubTransport(t, func(req *http.Request) (*http.Response, error) {
		var envelope struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(req.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if envelope.Method != "vault_getHealthFactor" {
			t.Fatalf("unexpected method %q", envelope.Method)
		}
		body := `{"jsonrpc":"2.0","id":1,"result":{"healthFactor":"2000000000000000000"}}`
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
		}, nil
	})

	output := captureStdout(t, func() {
		runQuery("vault_getHealthFactor", map[string]string{"account": "dusd1example"})
	})

	if !strings.Contains(output, `"healthFactor": "2000000000000000000"`) {
		t.Fatalf("expected indented result, got %q", output)
	}
}

func TestQuerySurfacesNodeErrorData(t *testing.T) {
	stubTransport(t, func(*http.Request) (*http.Response, error) {
		body := `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"amount exceeds balance","data":{"available":"5","requested":"9"}}}`
		return &http.Response{
			StatusCode: http.StatusBadRequest,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
		}, nil
	})

	output := captureStdout(t, func() {
		runQuery("vault_getHealthFactor", map[string]string{"account": "dusd1example"})
	})

	if !strings.Contains(output, "amount exceeds balance") {
		t.Fatalf("expected node error message, got %q", output)
	}
	if !strings.Contains(output, `"available":"5"`) {
		t.Fatalf("expected error data payload, got %q", output)
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	originalEndpoint := rpcEndpoint
	defer func() { rpcEndpoint = originalEndpoint }()

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:9000", "status"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if rpcEndpoint != "http://node:9000" {
		t.Fatalf("endpoint not overridden: %q", rpcEndpoint)
	}
	if len(rest) != 1 || rest[0] != "status" {
		t.Fatalf("unexpected remaining args: %v", rest)
	}

	rest, err = applyGlobalFlags([]string{"--rpc=http://node:9001", "health", "dusd1x"})
	if err != nil {
		t.Fatalf("apply inline flag: %v", err)
	}
	if rpcEndpoint != "http://node:9001" {
		t.Fatalf("inline endpoint not applied: %q", rpcEndpoint)
	}
	if len(rest) != 2 || rest[0] != "health" {
		t.Fatalf("unexpected remaining args: %v", rest)
	}

	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected missing value error")
	}
}

func TestParseAmountRejectsNonInteger(t *testing.T) {
	output := captureStdout(t, func() {
		if _, ok := parseAmount("ten"); ok {
			t.Errorf("expected rejection of %q", "ten")
		}
		if _, ok := parseAmount("1.5"); ok {
			t.Errorf("expected rejection of %q", "1.5")
		}
	})
	if !strings.Contains(output, "base-10 integer") {
		t.Fatalf("expected explanation, got %q", output)
	}

	value, ok := parseAmount(" 1000000000000000000 ")
	if !ok || value != "1000000000000000000" {
		t.Fatalf("expected trimmed integer to pass, got %q ok=%v", value, ok)
	}
}
