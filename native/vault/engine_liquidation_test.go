package vault

import (
	"errors"
	"math/big"
	"testing"
)

func TestLiquidateSeizesCollateralWithBonus(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02, 0x01)
	liquidator := makeAddress(0x02, 0x02)

	env.openPosition(t, borrower, "WETH", scaled(10), scaled(100))
	env.openPosition(t, liquidator, "WETH", scaled(500), scaled(100))

	env.setPrice(t, "eth-usd", "18")

	seized, err := env.engine.Liquidate(liquidator, "WETH", borrower, scaled(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// 100 DUSD at $18 is 5.555... WETH, plus the 10% bonus.
	base := new(big.Int).Div(scaled(100), big.NewInt(18))
	bonus := new(big.Int).Div(new(big.Int).Mul(base, big.NewInt(LiquidationBonus)), big.NewInt(LiquidationPrecision))
	want := new(big.Int).Add(base, bonus)
	if seized.Cmp(want) != 0 {
		t.Fatalf("unexpected seizure: got %s want %s", seized, want)
	}

	debt, err := env.manager.DebtBalance(borrower)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", debt)
	}
	remaining, err := env.manager.CollateralBalance(borrower, "WETH")
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	wantRemaining := new(big.Int).Sub(scaled(10), want)
	if remaining.Cmp(wantRemaining) != 0 {
		t.Fatalf("unexpected remaining collateral: got %s want %s", remaining, wantRemaining)
	}
	free, err := env.bank.BalanceOf(liquidator, "WETH")
	if err != nil {
		t.Fatalf("liquidator balance: %v", err)
	}
	if free.Cmp(want) != 0 {
		t.Fatalf("expected liquidator paid %s, got %s", want, free)
	}

	factor, err := env.engine.HealthFactor(borrower)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(MaxHealthFactor) != 0 {
		t.Fatalf("expected debt-free factor, got %s", factor)
	}
	supply, err := env.synth.TotalSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(scaled(100)) != 0 {
		t.Fatalf("expected only the liquidator's mint outstanding, got %s", supply)
	}
}

func TestLiquidatePartialCoverImprovesFactor(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02, 0x03)
	liquidator := makeAddress(0x02, 0x04)

	env.openPosition(t, borrower, "WETH", scaled(10), scaled(100))
	env.openPosition(t, liquidator, "WETH", scaled(500), scaled(100))

	env.setPrice(t, "eth-usd", "18")
	before, err := env.engine.HealthFactor(borrower)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}

	if _, err := env.engine.Liquidate(liquidator, "WETH", borrower, scaled(50)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	after, err := env.engine.HealthFactor(borrower)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if after.Cmp(before) <= 0 {
		t.Fatalf("expected strict improvement: before %s after %s", before, after)
	}
	debt, err := env.manager.DebtBalance(borrower)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(scaled(50)) != 0 {
		t.Fatalf("expected half the debt remaining, got %s", debt)
	}
}

func TestLiquidateRejectsHealthyTarget(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02, 0x05)
	liquidator := makeAddress(0x02, 0x06)

	env.openPosition(t, borrower, "WETH", scaled(10), scaled(100))
	env.openPosition(t, liquidator, "WETH", scaled(500), scaled(100))

	if _, err := env.engine.Liquidate(liquidator, "WETH", borrower, scaled(50)); !errors.Is(err, ErrHealthFactorOk) {
		t.Fatalf("expected healthy target rejection, got %v", err)
	}
}

func TestLiquidateRejectsDustCover(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02, 0x07)
	liquidator := makeAddress(0x02, 0x08)

	env.openPosition(t, borrower, "WETH", scaled(10), scaled(100))
	env.openPosition(t, liquidator, "WETH", scaled(500), scaled(100))

	env.setPrice(t, "eth-usd", "18")

	// 18 wei of cover seizes a single wei of collateral and leaves the
	// truncated factor exactly where it started.
	if _, err := env.engine.Liquidate(liquidator, "WETH", borrower, big.NewInt(18)); !errors.Is(err, ErrHealthFactorNotImproved) {
		t.Fatalf("expected no-improvement rejection, got %v", err)
	}
}

func TestLiquidateRejectsOverSeizure(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02, 0x09)
	liquidator := makeAddress(0x02, 0x0A)

	env.openPosition(t, borrower, "WETH", scaled(10), scaled(100))
	env.openPosition(t, liquidator, "WETH", scaled(500), scaled(100))

	// At $10 the full cover plus bonus wants 11 WETH against a 10 WETH
	// deposit.
	env.setPrice(t, "eth-usd", "10")

	_, err := env.engine.Liquidate(liquidator, "WETH", borrower, scaled(100))
	var exceeds *AmountExceedsBalanceError
	if !errors.As(err, &exceeds) {
		t.Fatalf("expected amount exceeds balance, got %v", err)
	}
	if exceeds.Available.Cmp(scaled(10)) != 0 || exceeds.Requested.Cmp(scaled(11)) != 0 {
		t.Fatalf("unexpected bounds: available %s requested %s", exceeds.Available, exceeds.Requested)
	}
}

func TestLiquidateGuardsLiquidatorPosition(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02, 0x0B)
	liquidator := makeAddress(0x02, 0x0C)

	env.openPosition(t, borrower, "WETH", scaled(10), scaled(100))
	// The liquidator's own position barely survives at $2000 and breaks
	// together with the borrower's when the price crashes.
	env.openPosition(t, liquidator, "WETH", scaled(1), scaled(900))

	env.setPrice(t, "eth-usd", "18")

	_, err := env.engine.Liquidate(liquidator, "WETH", borrower, scaled(100))
	var broken *HealthFactorBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("expected liquidator health check failure, got %v", err)
	}
}

func TestLiquidateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0x02, 0x0D)
	liquidator := makeAddress(0x02, 0x0E)

	env.openPosition(t, borrower, "WETH", scaled(10), scaled(100))

	if _, err := env.engine.Liquidate(liquidator, "WETH", borrower, big.NewInt(0)); !errors.Is(err, ErrNeedsMoreThanZero) {
		t.Fatalf("expected zero cover rejection, got %v", err)
	}
	if _, err := env.engine.Liquidate(liquidator, "DOGE", borrower, scaled(1)); !errors.Is(err, ErrNotAllowedToken) {
		t.Fatalf("expected unregistered asset rejection, got %v", err)
	}
}
