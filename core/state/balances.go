package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"dusd/crypto"
)

// Ledger amounts are persisted as 256-bit words. Zero balances encode to an
// empty value, which reads back as zero, so absent and zero are equivalent.

func (m *Manager) readAmount(key []byte) (*big.Int, error) {
	data, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	word := new(uint256.Int).SetBytes(data)
	return word.ToBig(), nil
}

func (m *Manager) writeAmount(key []byte, amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("state: nil amount")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount")
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("state: amount overflows 256 bits")
	}
	m.put(key, word.Bytes())
	return nil
}

// --- Collateral deposits (engine-held, per account per asset) ---

// CollateralBalance returns the deposited collateral for an account and asset.
func (m *Manager) CollateralBalance(addr crypto.Address, asset string) (*big.Int, error) {
	return m.readAmount(collateralKey(NormalizeAsset(asset), addr))
}

// SetCollateralBalance stages a new deposited-collateral balance.
func (m *Manager) SetCollateralBalance(addr crypto.Address, asset string, amount *big.Int) error {
	return m.writeAmount(collateralKey(NormalizeAsset(asset), addr), amount)
}

// --- Debt positions ---

// DebtBalance returns the synthetic debt minted by an account.
func (m *Manager) DebtBalance(addr crypto.Address) (*big.Int, error) {
	return m.readAmount(debtKey(addr))
}

// SetDebtBalance stages a new minted-debt balance.
func (m *Manager) SetDebtBalance(addr crypto.Address, amount *big.Int) error {
	return m.writeAmount(debtKey(addr), amount)
}

// --- Collateral asset bank (free balances outside the engine) ---

// AssetBalance returns an account's free balance of a collateral asset.
func (m *Manager) AssetBalance(addr crypto.Address, asset string) (*big.Int, error) {
	return m.readAmount(assetKey(NormalizeAsset(asset), addr))
}

// SetAssetBalance stages a new free asset balance.
func (m *Manager) SetAssetBalance(addr crypto.Address, asset string, amount *big.Int) error {
	return m.writeAmount(assetKey(NormalizeAsset(asset), addr), amount)
}

// --- Synthetic token ledger ---

// SyntheticBalance returns an account's synthetic token balance.
func (m *Manager) SyntheticBalance(addr crypto.Address) (*big.Int, error) {
	return m.readAmount(synthKey(addr))
}

// SetSyntheticBalance stages a new synthetic token balance.
func (m *Manager) SetSyntheticBalance(addr crypto.Address, amount *big.Int) error {
	return m.writeAmount(synthKey(addr), amount)
}

// SyntheticSupply returns the total minted synthetic supply.
func (m *Manager) SyntheticSupply() (*big.Int, error) {
	return m.readAmount(synthSupplyKey)
}

// SetSyntheticSupply stages a new total supply.
func (m *Manager) SetSyntheticSupply(amount *big.Int) error {
	return m.writeAmount(synthSupplyKey, amount)
}
