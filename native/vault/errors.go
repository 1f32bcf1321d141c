package vault

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState = errors.New("vault engine: state not configured")

	// ErrNeedsMoreThanZero rejects zero or negative operation amounts before
	// any state is touched.
	ErrNeedsMoreThanZero = errors.New("vault: amount must be more than zero")
	// ErrNotAllowedToken rejects collateral symbols outside the registry.
	ErrNotAllowedToken = errors.New("vault: collateral asset not registered")
	// ErrLengthMismatch rejects engine construction when the asset and feed
	// lists disagree in length.
	ErrLengthMismatch = errors.New("vault: asset and feed lists must have equal length")
	// ErrTransferFailed surfaces a collateral or synthetic transfer the
	// collaborating ledger refused.
	ErrTransferFailed = errors.New("vault: transfer failed")
	// ErrMintFailed surfaces a synthetic issuance the token ledger refused.
	ErrMintFailed = errors.New("vault: synthetic mint failed")
	// ErrHealthFactorOk rejects liquidation of a position that is not below
	// the minimum health factor.
	ErrHealthFactorOk = errors.New("vault: health factor not below minimum")
	// ErrHealthFactorNotImproved rejects a liquidation that leaves the target
	// no healthier than it started.
	ErrHealthFactorNotImproved = errors.New("vault: liquidation did not improve health factor")
	// ErrReentrantCall rejects an engine operation invoked from within
	// another in-flight operation on the same engine.
	ErrReentrantCall = errors.New("vault: reentrant call")
)

// AmountExceedsBalanceError reports a debit larger than the available
// balance, carrying both sides so callers can size a retry.
type AmountExceedsBalanceError struct {
	Available *big.Int
	Requested *big.Int
}

func (e *AmountExceedsBalanceError) Error() string {
	return fmt.Sprintf("vault: amount exceeds balance: available %s, requested %s", e.Available, e.Requested)
}

// HealthFactorBrokenError reports an operation that would leave the account
// below the minimum health factor.
type HealthFactorBrokenError struct {
	Factor *big.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("vault: health factor broken: %s", e.Factor)
}
