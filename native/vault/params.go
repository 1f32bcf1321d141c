package vault

import "math/big"

// ModuleName is the pause-control identifier for the vault engine.
const ModuleName = "vault"

const (
	// LiquidationThreshold is the percentage of collateral value counted
	// toward solvency. 50 means positions must stay 200% collateralized.
	LiquidationThreshold = 50
	// LiquidationPrecision is the denominator for threshold and bonus math.
	LiquidationPrecision = 100
	// LiquidationBonus is the percentage of the repaid value a liquidator
	// receives on top of the equivalent collateral.
	LiquidationBonus = 10
)

var (
	// Scale is the fixed-point unit shared by debt, collateral valuations
	// and health factors: 1e18.
	Scale = big.NewInt(1_000_000_000_000_000_000)
	// MinHealthFactor is the solvency floor. Factors below it mark a
	// position as liquidatable.
	MinHealthFactor = new(big.Int).Set(Scale)
	// AdditionalFeedPrecision lifts 8-decimal oracle prices to the
	// 18-decimal fixed-point scale.
	AdditionalFeedPrecision = big.NewInt(10_000_000_000)
	// MaxHealthFactor is reported for accounts with no debt.
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Parameters bundles the protocol constants for read-only queries.
type Parameters struct {
	LiquidationThreshold int64    `json:"liquidationThreshold"`
	LiquidationPrecision int64    `json:"liquidationPrecision"`
	LiquidationBonus     int64    `json:"liquidationBonus"`
	MinHealthFactor      *big.Int `json:"minHealthFactor"`
	Scale                *big.Int `json:"scale"`
	FeedPrecision        *big.Int `json:"feedPrecision"`
}
