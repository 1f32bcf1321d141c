package state

import (
	"fmt"
	"math/big"

	"dusd/crypto"
)

// SyntheticToken is the state-backed synthetic-dollar ledger. The vault
// module address is the sole mint/burn authority; tokens pulled back into
// module custody are destroyed with Burn.
type SyntheticToken struct {
	mgr       *Manager
	authority crypto.Address
}

// NewSyntheticToken binds the ledger to a manager and the module custody
// address authorized to mint and burn.
func NewSyntheticToken(mgr *Manager, authority crypto.Address) *SyntheticToken {
	return &SyntheticToken{mgr: mgr, authority: authority}
}

// Mint credits freshly issued tokens to an account and grows the supply. A
// false return signals the ledger refused the issuance.
func (t *SyntheticToken) Mint(to crypto.Address, amount *big.Int) (bool, error) {
	if t == nil || t.mgr == nil {
		return false, fmt.Errorf("state: synthetic ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, nil
	}
	balance, err := t.mgr.SyntheticBalance(to)
	if err != nil {
		return false, err
	}
	supply, err := t.mgr.SyntheticSupply()
	if err != nil {
		return false, err
	}
	if err := t.mgr.SetSyntheticBalance(to, new(big.Int).Add(balance, amount)); err != nil {
		return false, err
	}
	if err := t.mgr.SetSyntheticSupply(new(big.Int).Add(supply, amount)); err != nil {
		return false, err
	}
	return true, nil
}

// Burn destroys tokens held by the module authority and shrinks the supply.
func (t *SyntheticToken) Burn(amount *big.Int) error {
	if t == nil || t.mgr == nil {
		return fmt.Errorf("state: synthetic ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: burn amount must be positive")
	}
	held, err := t.mgr.SyntheticBalance(t.authority)
	if err != nil {
		return err
	}
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("state: burn exceeds module holdings")
	}
	supply, err := t.mgr.SyntheticSupply()
	if err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("state: burn exceeds total supply")
	}
	if err := t.mgr.SetSyntheticBalance(t.authority, new(big.Int).Sub(held, amount)); err != nil {
		return err
	}
	return t.mgr.SetSyntheticSupply(new(big.Int).Sub(supply, amount))
}

// TransferFrom moves synthetic tokens between accounts. A false return with
// nil error means the sender's balance was insufficient.
func (t *SyntheticToken) TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error) {
	if t == nil || t.mgr == nil {
		return false, fmt.Errorf("state: synthetic ledger not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return false, nil
	}
	if amount.Sign() == 0 {
		return true, nil
	}
	fromBal, err := t.mgr.SyntheticBalance(from)
	if err != nil {
		return false, err
	}
	if fromBal.Cmp(amount) < 0 {
		return false, nil
	}
	toBal, err := t.mgr.SyntheticBalance(to)
	if err != nil {
		return false, err
	}
	if err := t.mgr.SetSyntheticBalance(from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return false, err
	}
	if err := t.mgr.SetSyntheticBalance(to, new(big.Int).Add(toBal, amount)); err != nil {
		return false, err
	}
	return true, nil
}

// BalanceOf returns an account's synthetic balance.
func (t *SyntheticToken) BalanceOf(account crypto.Address) (*big.Int, error) {
	if t == nil || t.mgr == nil {
		return nil, fmt.Errorf("state: synthetic ledger not initialised")
	}
	return t.mgr.SyntheticBalance(account)
}

// TotalSupply returns the outstanding synthetic supply.
func (t *SyntheticToken) TotalSupply() (*big.Int, error) {
	if t == nil || t.mgr == nil {
		return nil, fmt.Errorf("state: synthetic ledger not initialised")
	}
	return t.mgr.SyntheticSupply()
}

// CollateralBank is the state-backed fungible ledger for collateral assets.
// The engine pulls deposits from free balances into its custody address and
// pays redemptions back out of it.
type CollateralBank struct {
	mgr     *Manager
	custody crypto.Address
}

// NewCollateralBank binds the bank to a manager and the engine custody
// address used as the source of outbound transfers.
func NewCollateralBank(mgr *Manager, custody crypto.Address) *CollateralBank {
	return &CollateralBank{mgr: mgr, custody: custody}
}

// TransferFrom moves asset units between accounts. A false return with nil
// error means the sender's free balance was insufficient.
func (b *CollateralBank) TransferFrom(asset string, from, to crypto.Address, amount *big.Int) (bool, error) {
	if b == nil || b.mgr == nil {
		return false, fmt.Errorf("state: collateral bank not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return false, nil
	}
	if amount.Sign() == 0 {
		return true, nil
	}
	symbol := NormalizeAsset(asset)
	fromBal, err := b.mgr.AssetBalance(from, symbol)
	if err != nil {
		return false, err
	}
	if fromBal.Cmp(amount) < 0 {
		return false, nil
	}
	toBal, err := b.mgr.AssetBalance(to, symbol)
	if err != nil {
		return false, err
	}
	if err := b.mgr.SetAssetBalance(from, symbol, new(big.Int).Sub(fromBal, amount)); err != nil {
		return false, err
	}
	if err := b.mgr.SetAssetBalance(to, symbol, new(big.Int).Add(toBal, amount)); err != nil {
		return false, err
	}
	return true, nil
}

// Transfer moves asset units out of engine custody.
func (b *CollateralBank) Transfer(asset string, to crypto.Address, amount *big.Int) (bool, error) {
	return b.TransferFrom(asset, b.custody, to, amount)
}

// BalanceOf returns an account's free balance of an asset.
func (b *CollateralBank) BalanceOf(account crypto.Address, asset string) (*big.Int, error) {
	if b == nil || b.mgr == nil {
		return nil, fmt.Errorf("state: collateral bank not initialised")
	}
	return b.mgr.AssetBalance(account, asset)
}
