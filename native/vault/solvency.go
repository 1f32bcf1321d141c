package vault

import (
	"math/big"

	"dusd/crypto"
)

// AccountInfo summarizes a position: outstanding synthetic debt and the
// 18-decimal USD value of all deposited collateral.
type AccountInfo struct {
	Debt          *big.Int `json:"debt"`
	CollateralUSD *big.Int `json:"collateralValueUsd"`
}

// USDValue prices amount of asset at the latest quote, upscaled from the
// feed's 8 decimals to the 18-decimal fixed-point scale. Division truncates
// toward zero.
func (e *Engine) USDValue(asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.feed == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrNeedsMoreThanZero
	}
	feedID, err := e.FeedFor(asset)
	if err != nil {
		return nil, err
	}
	quote, err := e.feed.LatestQuote(feedID)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(quote.Price, AdditionalFeedPrecision)
	value.Mul(value, amount)
	return value.Div(value, Scale), nil
}

// TokenAmountFromUSD inverts USDValue: the amount of asset worth usd at the
// latest quote. Division truncates toward zero.
func (e *Engine) TokenAmountFromUSD(asset string, usd *big.Int) (*big.Int, error) {
	if e == nil || e.feed == nil {
		return nil, errNilState
	}
	if usd == nil || usd.Sign() < 0 {
		return nil, ErrNeedsMoreThanZero
	}
	feedID, err := e.FeedFor(asset)
	if err != nil {
		return nil, err
	}
	quote, err := e.feed.LatestQuote(feedID)
	if err != nil {
		return nil, err
	}
	scaled := new(big.Int).Mul(quote.Price, AdditionalFeedPrecision)
	amount := new(big.Int).Mul(usd, Scale)
	return amount.Div(amount, scaled), nil
}

// AccountInformation values every registered asset for addr, consulting the
// price feed for each one so a single stale feed freezes valuation.
func (e *Engine) AccountInformation(addr crypto.Address) (AccountInfo, error) {
	if err := e.ready(); err != nil {
		return AccountInfo{}, err
	}
	debt, err := e.state.DebtBalance(addr)
	if err != nil {
		return AccountInfo{}, err
	}
	total := big.NewInt(0)
	for _, asset := range e.assets {
		deposit, err := e.state.CollateralBalance(addr, asset.Symbol)
		if err != nil {
			return AccountInfo{}, err
		}
		value, err := e.USDValue(asset.Symbol, deposit)
		if err != nil {
			return AccountInfo{}, err
		}
		total.Add(total, value)
	}
	return AccountInfo{Debt: debt, CollateralUSD: total}, nil
}

// HealthFactor reports addr's solvency ratio at the 18-decimal scale. Only
// half the collateral value counts, so a factor of exactly Scale means 200%
// collateralization. Debt-free accounts report MaxHealthFactor.
func (e *Engine) HealthFactor(addr crypto.Address) (*big.Int, error) {
	info, err := e.AccountInformation(addr)
	if err != nil {
		return nil, err
	}
	if info.Debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor), nil
	}
	adjusted := new(big.Int).Mul(info.CollateralUSD, big.NewInt(LiquidationThreshold))
	adjusted.Div(adjusted, big.NewInt(LiquidationPrecision))
	adjusted.Mul(adjusted, Scale)
	return adjusted.Div(adjusted, info.Debt), nil
}

func (e *Engine) assertSolvent(addr crypto.Address) error {
	factor, err := e.HealthFactor(addr)
	if err != nil {
		return err
	}
	if factor.Cmp(MinHealthFactor) < 0 {
		return &HealthFactorBrokenError{Factor: factor}
	}
	return nil
}
