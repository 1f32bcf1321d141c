package modules

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"testing"

	nativecommon "dusd/native/common"
	"dusd/native/oracle"
	"dusd/native/vault"
)

func TestModuleErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"stale oracle", fmt.Errorf("guard: %w", oracle.ErrStalePrice), http.StatusServiceUnavailable, codeServerError},
		{"paused module", nativecommon.ErrModulePaused, http.StatusServiceUnavailable, codeServerError},
		{"zero amount", vault.ErrNeedsMoreThanZero, http.StatusBadRequest, codeInvalidParams},
		{"unknown asset", vault.ErrNotAllowedToken, http.StatusBadRequest, codeInvalidParams},
		{"unknown feed", oracle.ErrUnknownFeed, http.StatusBadRequest, codeInvalidParams},
		{"healthy target", vault.ErrHealthFactorOk, http.StatusBadRequest, codeInvalidParams},
		{"no improvement", vault.ErrHealthFactorNotImproved, http.StatusBadRequest, codeInvalidParams},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, codeServerError},
	}
	for _, tc := range cases {
		modErr := moduleError(tc.err)
		if modErr == nil {
			t.Fatalf("%s: expected module error", tc.name)
		}
		if modErr.HTTPStatus != tc.status || modErr.Code != tc.code {
			t.Fatalf("%s: got status %d code %d, want %d/%d", tc.name, modErr.HTTPStatus, modErr.Code, tc.status, tc.code)
		}
	}
	if moduleError(nil) != nil {
		t.Fatalf("nil error must map to nil")
	}
}

func TestModuleErrorCarriesBalanceData(t *testing.T) {
	err := fmt.Errorf("redeem: %w", &vault.AmountExceedsBalanceError{
		Available: big.NewInt(5),
		Requested: big.NewInt(9),
	})
	modErr := moduleError(err)
	if modErr.HTTPStatus != http.StatusBadRequest || modErr.Code != codeInvalidParams {
		t.Fatalf("unexpected mapping: %+v", modErr)
	}
	data, ok := modErr.Data.(map[string]string)
	if !ok {
		t.Fatalf("expected balance data, got %T", modErr.Data)
	}
	if data["available"] != "5" || data["requested"] != "9" {
		t.Fatalf("unexpected data payload: %v", data)
	}
}

func TestModuleErrorCarriesHealthFactorData(t *testing.T) {
	factor := big.NewInt(900_000_000_000_000_000)
	modErr := moduleError(fmt.Errorf("mint: %w", &vault.HealthFactorBrokenError{Factor: factor}))
	if modErr.HTTPStatus != http.StatusBadRequest || modErr.Code != codeInvalidParams {
		t.Fatalf("unexpected mapping: %+v", modErr)
	}
	data, ok := modErr.Data.(map[string]string)
	if !ok {
		t.Fatalf("expected factor data, got %T", modErr.Data)
	}
	if data["healthFactor"] != factor.String() {
		t.Fatalf("unexpected data payload: %v", data)
	}
}
