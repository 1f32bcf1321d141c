package vault

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"dusd/native/oracle"
)

func TestUSDValuePricesAtFeedScale(t *testing.T) {
	env := newTestEnv(t)

	value, err := env.engine.USDValue("WETH", scaled(15))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if value.Cmp(scaled(30_000)) != 0 {
		t.Fatalf("expected 30000e18, got %s", value)
	}

	value, err = env.engine.USDValue("WETH", big.NewInt(0))
	if err != nil {
		t.Fatalf("usd value of zero: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("expected zero, got %s", value)
	}

	if _, err := env.engine.USDValue("DOGE", scaled(1)); !errors.Is(err, ErrNotAllowedToken) {
		t.Fatalf("expected unregistered asset rejection, got %v", err)
	}
}

func TestTokenAmountFromUSDInvertsPricing(t *testing.T) {
	env := newTestEnv(t)

	amount, err := env.engine.TokenAmountFromUSD("WETH", scaled(100))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	// $100 of WETH at $2000 is 0.05 WETH.
	want := new(big.Int).Div(Scale, big.NewInt(20))
	if amount.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, amount)
	}
}

func TestValuationTruncatesTowardZero(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "eth-usd", "3")

	// 1e18 / 3 truncates; converting back never exceeds the input.
	usd := scaled(1)
	amount, err := env.engine.TokenAmountFromUSD("WETH", usd)
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	if amount.Cmp(big.NewInt(333_333_333_333_333_333)) != 0 {
		t.Fatalf("expected truncated amount, got %s", amount)
	}
	back, err := env.engine.USDValue("WETH", amount)
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if back.Cmp(usd) > 0 {
		t.Fatalf("round trip exceeded input: %s > %s", back, usd)
	}
}

func TestAccountInformationSumsEveryAsset(t *testing.T) {
	env := newTestEnv(t)
	account := makeAddress(0x03, 0x01)

	env.fund(t, account, "WETH", scaled(2))
	env.fund(t, account, "WBTC", scaled(1))
	if err := env.engine.DepositCollateral(account, "WETH", scaled(2)); err != nil {
		t.Fatalf("deposit weth: %v", err)
	}
	if err := env.engine.DepositCollateral(account, "WBTC", scaled(1)); err != nil {
		t.Fatalf("deposit wbtc: %v", err)
	}
	if err := env.engine.MintSynthetic(account, scaled(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	info, err := env.engine.AccountInformation(account)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if info.Debt.Cmp(scaled(1_000)) != 0 {
		t.Fatalf("unexpected debt: %s", info.Debt)
	}
	// 2 WETH at $2000 plus 1 WBTC at $30000.
	if info.CollateralUSD.Cmp(scaled(34_000)) != 0 {
		t.Fatalf("unexpected collateral value: %s", info.CollateralUSD)
	}
}

func TestHealthFactorMaxWhenDebtFree(t *testing.T) {
	env := newTestEnv(t)
	account := makeAddress(0x03, 0x02)

	factor, err := env.engine.HealthFactor(account)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(MaxHealthFactor) != 0 {
		t.Fatalf("expected max factor, got %s", factor)
	}

	env.fund(t, account, "WETH", scaled(3))
	if err := env.engine.DepositCollateral(account, "WETH", scaled(3)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	factor, err = env.engine.HealthFactor(account)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(MaxHealthFactor) != 0 {
		t.Fatalf("expected max factor with collateral and no debt, got %s", factor)
	}
}

func TestValuationFailsWhenAnyFeedIsStale(t *testing.T) {
	env := newTestEnv(t)
	account := makeAddress(0x03, 0x03)
	env.openPosition(t, account, "WETH", scaled(10), scaled(100))

	// Only the unused WBTC feed goes stale, yet valuation must still stop.
	guard := oracle.NewStaleGuard(env.feed, time.Hour)
	now := time.Now()
	guard.SetNowFunc(func() time.Time { return now })
	env.engine.SetFeed(guard)
	env.setPrice(t, "eth-usd", "2000")
	if err := env.feed.SetDecimal("btc-usd", "30000", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("set stale price: %v", err)
	}

	if _, err := env.engine.AccountInformation(account); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
}

func TestParametersReportConstants(t *testing.T) {
	env := newTestEnv(t)
	params := env.engine.Parameters()
	if params.LiquidationThreshold != LiquidationThreshold || params.LiquidationBonus != LiquidationBonus {
		t.Fatalf("unexpected parameters: %+v", params)
	}
	if params.MinHealthFactor.Cmp(MinHealthFactor) != 0 || params.Scale.Cmp(Scale) != 0 {
		t.Fatalf("unexpected fixed-point parameters: %+v", params)
	}
	assets := env.engine.CollateralAssets()
	if len(assets) != 2 || assets[0].Symbol != "WETH" || assets[1].FeedID != "btc-usd" {
		t.Fatalf("unexpected registry: %+v", assets)
	}
}
