package events

import (
	"math/big"
	"strings"

	"dusd/core/types"
	"dusd/crypto"
)

const (
	// TypeCollateralDeposited is emitted when collateral enters engine custody.
	TypeCollateralDeposited = "vault.collateral_deposited"
	// TypeCollateralRedeemed is emitted when collateral leaves engine custody,
	// whether by the owner redeeming or a liquidator seizing.
	TypeCollateralRedeemed = "vault.collateral_redeemed"
)

// CollateralDeposited records a deposit credited to an account's position.
type CollateralDeposited struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"account": addressAttr(e.Account),
			"asset":   strings.TrimSpace(e.Asset),
			"amount":  amountAttr(e.Amount),
		},
	}
}

// CollateralRedeemed records collateral paid out of a position. From is the
// position owner; To is the recipient (the owner on redeem, the liquidator on
// seizure).
type CollateralRedeemed struct {
	From   crypto.Address
	To     crypto.Address
	Asset  string
	Amount *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"from":   addressAttr(e.From),
			"to":     addressAttr(e.To),
			"asset":  strings.TrimSpace(e.Asset),
			"amount": amountAttr(e.Amount),
		},
	}
}

func addressAttr(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func amountAttr(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
