package vault

import (
	"fmt"
	"math/big"
	"strings"

	"dusd/core/events"
	"dusd/crypto"
	nativecommon "dusd/native/common"
	"dusd/native/oracle"
)

// State is the ledger surface the engine reads and mutates. Implementations
// stage writes so a failed operation can be discarded wholesale.
type State interface {
	CollateralBalance(addr crypto.Address, asset string) (*big.Int, error)
	SetCollateralBalance(addr crypto.Address, asset string, amount *big.Int) error
	DebtBalance(addr crypto.Address) (*big.Int, error)
	SetDebtBalance(addr crypto.Address, amount *big.Int) error
}

// SyntheticLedger is the dollar-pegged token the engine issues and retires.
type SyntheticLedger interface {
	Mint(to crypto.Address, amount *big.Int) (bool, error)
	Burn(amount *big.Int) error
	TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error)
	BalanceOf(account crypto.Address) (*big.Int, error)
	TotalSupply() (*big.Int, error)
}

// CollateralBank moves registered collateral between accounts and the
// engine's custody account.
type CollateralBank interface {
	TransferFrom(asset string, from, to crypto.Address, amount *big.Int) (bool, error)
	Transfer(asset string, to crypto.Address, amount *big.Int) (bool, error)
}

// CollateralAsset pairs a registered collateral symbol with its price feed.
type CollateralAsset struct {
	Symbol string `json:"symbol"`
	FeedID string `json:"feedId"`
}

// Engine enforces the over-collateralization protocol: deposits and debt per
// account, a 200% collateral floor, and bonus-carrying liquidations of
// positions that slip under it.
type Engine struct {
	state   State
	synth   SyntheticLedger
	bank    CollateralBank
	feed    oracle.Feed
	custody crypto.Address
	assets  []CollateralAsset
	feedIDs map[string]string
	pauses  nativecommon.PauseView
	emitter events.Emitter
	entered bool
}

// NewEngine builds an engine over the given custody account and parallel
// asset/feed lists. Collaborators are attached afterwards via the Set
// methods.
func NewEngine(custody crypto.Address, assets, feeds []string) (*Engine, error) {
	if len(assets) != len(feeds) {
		return nil, ErrLengthMismatch
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("vault: at least one collateral asset required")
	}
	registry := make([]CollateralAsset, 0, len(assets))
	index := make(map[string]string, len(assets))
	for i := range assets {
		symbol := normalizeSymbol(assets[i])
		feedID := oracle.NormalizeFeedID(feeds[i])
		if symbol == "" {
			return nil, fmt.Errorf("vault: collateral symbol %d must not be empty", i)
		}
		if feedID == "" {
			return nil, fmt.Errorf("vault: price feed for %s must not be empty", symbol)
		}
		if _, exists := index[symbol]; exists {
			return nil, fmt.Errorf("vault: duplicate collateral symbol %s", symbol)
		}
		registry = append(registry, CollateralAsset{Symbol: symbol, FeedID: feedID})
		index[symbol] = feedID
	}
	return &Engine{
		custody: custody,
		assets:  registry,
		feedIDs: index,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetState wires the staged ledger the engine operates on.
func (e *Engine) SetState(state State) { e.state = state }

// SetSynthetic wires the synthetic token ledger.
func (e *Engine) SetSynthetic(synth SyntheticLedger) { e.synth = synth }

// SetBank wires the collateral bank.
func (e *Engine) SetBank(bank CollateralBank) { e.bank = bank }

// SetFeed wires the price feed consulted for every valuation.
func (e *Engine) SetFeed(feed oracle.Feed) { e.feed = feed }

// SetPauses wires the module pause view. A nil view leaves the engine
// always-on.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter wires the event sink. A nil emitter silently discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// Custody returns the module account holding deposited collateral and
// repaid synthetic tokens awaiting burn.
func (e *Engine) Custody() crypto.Address { return e.custody }

// CollateralAssets returns a copy of the asset registry in registration
// order.
func (e *Engine) CollateralAssets() []CollateralAsset {
	out := make([]CollateralAsset, len(e.assets))
	copy(out, e.assets)
	return out
}

// FeedFor resolves the price feed identifier for a registered symbol.
func (e *Engine) FeedFor(asset string) (string, error) {
	feedID, ok := e.feedIDs[normalizeSymbol(asset)]
	if !ok {
		return "", ErrNotAllowedToken
	}
	return feedID, nil
}

// Parameters reports the protocol constants.
func (e *Engine) Parameters() Parameters {
	return Parameters{
		LiquidationThreshold: LiquidationThreshold,
		LiquidationPrecision: LiquidationPrecision,
		LiquidationBonus:     LiquidationBonus,
		MinHealthFactor:      new(big.Int).Set(MinHealthFactor),
		Scale:                new(big.Int).Set(Scale),
		FeedPrecision:        new(big.Int).Set(oracle.PriceScale),
	}
}

// DepositCollateral moves amount of asset from the caller into custody and
// credits the caller's deposit. Depositing never requires a solvency check.
func (e *Engine) DepositCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	return e.depositCollateral(caller, asset, amount)
}

func (e *Engine) depositCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	symbol := normalizeSymbol(asset)
	if _, ok := e.feedIDs[symbol]; !ok {
		return ErrNotAllowedToken
	}
	balance, err := e.state.CollateralBalance(caller, symbol)
	if err != nil {
		return err
	}
	ok, err := e.bank.TransferFrom(symbol, caller, e.custody, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransferFailed
	}
	if err := e.state.SetCollateralBalance(caller, symbol, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{Account: caller, Asset: symbol, Amount: new(big.Int).Set(amount)})
	return nil
}

// MintSynthetic issues amount of the synthetic token to the caller, growing
// their debt. The resulting position must stay at or above the minimum
// health factor.
func (e *Engine) MintSynthetic(caller crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	return e.mintSynthetic(caller, amount)
}

func (e *Engine) mintSynthetic(caller crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	debt, err := e.state.DebtBalance(caller)
	if err != nil {
		return err
	}
	if err := e.state.SetDebtBalance(caller, new(big.Int).Add(debt, amount)); err != nil {
		return err
	}
	if err := e.assertSolvent(caller); err != nil {
		return err
	}
	ok, err := e.synth.Mint(caller, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMintFailed
	}
	return nil
}

// DepositCollateralAndMint composes a deposit and a mint in one call.
func (e *Engine) DepositCollateralAndMint(caller crypto.Address, asset string, collateralAmount, mintAmount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if err := e.depositCollateral(caller, asset, collateralAmount); err != nil {
		return err
	}
	return e.mintSynthetic(caller, mintAmount)
}

// RedeemCollateral returns amount of asset from custody to the caller. The
// caller's remaining position must stay at or above the minimum health
// factor.
func (e *Engine) RedeemCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if err := e.redeemCollateral(caller, caller, asset, amount); err != nil {
		return err
	}
	return e.assertSolvent(caller)
}

func (e *Engine) redeemCollateral(from, to crypto.Address, asset string, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	symbol := normalizeSymbol(asset)
	if _, ok := e.feedIDs[symbol]; !ok {
		return ErrNotAllowedToken
	}
	balance, err := e.state.CollateralBalance(from, symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return &AmountExceedsBalanceError{Available: balance, Requested: new(big.Int).Set(amount)}
	}
	if err := e.state.SetCollateralBalance(from, symbol, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	ok, err := e.bank.Transfer(symbol, to, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransferFailed
	}
	e.emitter.Emit(events.CollateralRedeemed{From: from, To: to, Asset: symbol, Amount: new(big.Int).Set(amount)})
	return nil
}

// BurnSynthetic retires amount of the caller's synthetic tokens and shrinks
// their debt. Burning only ever improves a position, so no solvency check
// follows.
func (e *Engine) BurnSynthetic(caller crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	return e.burnSynthetic(caller, caller, amount)
}

func (e *Engine) burnSynthetic(onBehalf, payer crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	debt, err := e.state.DebtBalance(onBehalf)
	if err != nil {
		return err
	}
	if debt.Cmp(amount) < 0 {
		return &AmountExceedsBalanceError{Available: debt, Requested: new(big.Int).Set(amount)}
	}
	if err := e.state.SetDebtBalance(onBehalf, new(big.Int).Sub(debt, amount)); err != nil {
		return err
	}
	ok, err := e.synth.TransferFrom(payer, e.custody, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransferFailed
	}
	return e.synth.Burn(amount)
}

// RedeemCollateralForSynthetic burns the caller's synthetic tokens and then
// redeems collateral in one call.
func (e *Engine) RedeemCollateralForSynthetic(caller crypto.Address, asset string, collateralAmount, burnAmount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if err := e.burnSynthetic(caller, caller, burnAmount); err != nil {
		return err
	}
	if err := e.redeemCollateral(caller, caller, asset, collateralAmount); err != nil {
		return err
	}
	return e.assertSolvent(caller)
}

// Liquidate repays debtToCover of account's debt from the liquidator's
// synthetic balance and seizes the equivalent collateral plus a 10% bonus.
// The target must start below the minimum health factor and must end
// strictly healthier. Returns the collateral amount seized.
func (e *Engine) Liquidate(liquidator crypto.Address, asset string, account crypto.Address, debtToCover *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if err := requirePositive(debtToCover); err != nil {
		return nil, err
	}
	symbol := normalizeSymbol(asset)
	if _, ok := e.feedIDs[symbol]; !ok {
		return nil, ErrNotAllowedToken
	}
	starting, err := e.HealthFactor(account)
	if err != nil {
		return nil, err
	}
	if starting.Cmp(MinHealthFactor) >= 0 {
		return nil, ErrHealthFactorOk
	}
	base, err := e.TokenAmountFromUSD(symbol, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Mul(base, big.NewInt(LiquidationBonus))
	bonus.Div(bonus, big.NewInt(LiquidationPrecision))
	seized := new(big.Int).Add(base, bonus)
	if err := e.redeemCollateral(account, liquidator, symbol, seized); err != nil {
		return nil, err
	}
	if err := e.burnSynthetic(account, liquidator, debtToCover); err != nil {
		return nil, err
	}
	ending, err := e.HealthFactor(account)
	if err != nil {
		return nil, err
	}
	if ending.Cmp(starting) <= 0 {
		return nil, ErrHealthFactorNotImproved
	}
	if err := e.assertSolvent(liquidator); err != nil {
		return nil, err
	}
	return seized, nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.synth == nil || e.bank == nil || e.feed == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) enter() error {
	if e.entered {
		return ErrReentrantCall
	}
	e.entered = true
	return nil
}

func (e *Engine) leave() { e.entered = false }

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNeedsMoreThanZero
	}
	return nil
}

func normalizeSymbol(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
