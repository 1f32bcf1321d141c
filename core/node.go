package core

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"dusd/core/events"
	"dusd/core/state"
	"dusd/core/types"
	"dusd/crypto"
	nativecommon "dusd/native/common"
	"dusd/native/oracle"
	"dusd/native/vault"
	"dusd/observability"
	"dusd/storage"
)

const eventBacklogLimit = 2048

// NodeConfig carries the runtime knobs the daemon resolves from its config
// file.
type NodeConfig struct {
	// StalenessTimeout bounds the age of oracle quotes used for valuation.
	// Non-positive falls back to oracle.DefaultStalenessTimeout.
	StalenessTimeout time.Duration
	// PausedModules lists module names halted at boot.
	PausedModules []string
}

// Node is the central controller: it owns the database, serializes every
// state-mutating operation, and fans committed events out to the journal and
// live subscribers.
type Node struct {
	db        storage.Database
	state     *state.Manager
	journal   *events.Journal
	feed      *oracle.ManualFeed
	guard     *oracle.StaleGuard
	custody   crypto.Address
	registry  []state.AssetEntry
	pauses    *pauseSet
	telemetry *observability.VaultMetrics
	mu        sync.Mutex

	streamMu     sync.Mutex
	streamSubs   map[uint64]chan *events.Record
	streamNextID uint64
}

// NewNode opens (or bootstraps) the ledger in db. A fresh database requires a
// genesis document; a populated one optionally verifies the supplied genesis
// against the recorded hash.
func NewNode(db storage.Database, genesis *GenesisSpec, cfg NodeConfig) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database must not be nil")
	}
	manager := state.NewManager(db)
	registry, err := manager.AssetRegistry()
	if err != nil {
		return nil, err
	}
	if len(registry) == 0 {
		if genesis == nil {
			return nil, fmt.Errorf("core: database is empty and no genesis document was provided")
		}
		if err := genesis.Validate(); err != nil {
			return nil, err
		}
		if err := genesis.apply(manager, uint64(time.Now().Unix())); err != nil {
			return nil, err
		}
		if err := manager.Commit(); err != nil {
			return nil, err
		}
		registry, err = manager.AssetRegistry()
		if err != nil {
			return nil, err
		}
	} else if genesis != nil {
		stored, err := manager.GenesisHash()
		if err != nil {
			return nil, err
		}
		hash, err := genesis.Hash()
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(stored, hash) {
			return nil, ErrGenesisMismatch
		}
	}

	journal, err := events.NewJournal(db)
	if err != nil {
		return nil, err
	}
	feed := oracle.NewManualFeed()
	for _, entry := range registry {
		record, err := manager.OracleQuote(entry.FeedID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		quote := oracle.Quote{
			Price:     record.Price,
			UpdatedAt: time.Unix(int64(record.UpdatedAt), 0),
			Source:    record.Source,
		}
		if err := feed.SetQuote(entry.FeedID, quote); err != nil {
			return nil, fmt.Errorf("core: restore quote %s: %w", entry.FeedID, err)
		}
	}

	node := &Node{
		db:        db,
		state:     manager,
		journal:   journal,
		feed:      feed,
		guard:     oracle.NewStaleGuard(feed, cfg.StalenessTimeout),
		custody:   crypto.ModuleAddress(vault.ModuleName),
		registry:  registry,
		pauses:    newPauseSet(cfg.PausedModules),
		telemetry: observability.Vault(),
	}
	return node, nil
}

// Close releases the underlying database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}

// Custody returns the module account holding collateral deposits.
func (n *Node) Custody() crypto.Address { return n.custody }

// StalenessTimeout returns the oracle quote age bound in effect.
func (n *Node) StalenessTimeout() time.Duration { return n.guard.Timeout() }

// SetPaused halts or resumes a module by name.
func (n *Node) SetPaused(module string, paused bool) {
	n.pauses.set(module, paused)
}

// IsPaused reports whether a module is halted.
func (n *Node) IsPaused(module string) bool {
	return n.pauses.IsPaused(module)
}

func (n *Node) newEngine(manager *state.Manager, emitter events.Emitter) (*vault.Engine, error) {
	symbols := make([]string, len(n.registry))
	feeds := make([]string, len(n.registry))
	for i, entry := range n.registry {
		symbols[i] = entry.Symbol
		feeds[i] = entry.FeedID
	}
	engine, err := vault.NewEngine(n.custody, symbols, feeds)
	if err != nil {
		return nil, err
	}
	engine.SetState(manager)
	engine.SetSynthetic(state.NewSyntheticToken(manager, n.custody))
	engine.SetBank(state.NewCollateralBank(manager, n.custody))
	engine.SetFeed(n.guard)
	engine.SetPauses(n.pauses)
	engine.SetEmitter(emitter)
	return engine, nil
}

// execute runs op against a staged copy of the ledger and commits only on
// success, journalling and publishing the buffered events afterwards.
func (n *Node) execute(name string, op func(*vault.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	start := time.Now()
	err := n.executeLocked(op)
	n.telemetry.Observe(name, time.Since(start), err)
	return err
}

func (n *Node) executeLocked(op func(*vault.Engine) error) error {
	staged := n.state.Copy()
	buffer := &events.Buffer{}
	engine, err := n.newEngine(staged, buffer)
	if err != nil {
		return err
	}
	if err := op(engine); err != nil {
		return err
	}
	if err := staged.Commit(); err != nil {
		return err
	}
	return n.flush(buffer)
}

func (n *Node) flush(buffer *events.Buffer) error {
	for _, ev := range buffer.Drain() {
		wire, ok := ev.(interface{ Event() *types.Event })
		if !ok {
			continue
		}
		record, err := n.journal.Append(wire.Event())
		if err != nil {
			return err
		}
		observability.Events().RecordJournaled(record.Type)
		n.publish(record)
	}
	return nil
}

// DepositCollateral moves collateral from the caller's free balance into
// engine custody.
func (n *Node) DepositCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	return n.execute("deposit", func(engine *vault.Engine) error {
		return engine.DepositCollateral(caller, asset, amount)
	})
}

// MintSynthetic issues synthetic dollars against the caller's collateral.
func (n *Node) MintSynthetic(caller crypto.Address, amount *big.Int) error {
	return n.execute("mint", func(engine *vault.Engine) error {
		return engine.MintSynthetic(caller, amount)
	})
}

// DepositCollateralAndMint composes deposit and mint atomically.
func (n *Node) DepositCollateralAndMint(caller crypto.Address, asset string, collateralAmount, mintAmount *big.Int) error {
	return n.execute("deposit_and_mint", func(engine *vault.Engine) error {
		return engine.DepositCollateralAndMint(caller, asset, collateralAmount, mintAmount)
	})
}

// RedeemCollateral withdraws collateral from custody back to the caller.
func (n *Node) RedeemCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	return n.execute("redeem", func(engine *vault.Engine) error {
		return engine.RedeemCollateral(caller, asset, amount)
	})
}

// BurnSynthetic retires synthetic dollars against the caller's debt.
func (n *Node) BurnSynthetic(caller crypto.Address, amount *big.Int) error {
	return n.execute("burn", func(engine *vault.Engine) error {
		return engine.BurnSynthetic(caller, amount)
	})
}

// RedeemCollateralForSynthetic composes burn and redeem atomically.
func (n *Node) RedeemCollateralForSynthetic(caller crypto.Address, asset string, collateralAmount, burnAmount *big.Int) error {
	return n.execute("redeem_for_synthetic", func(engine *vault.Engine) error {
		return engine.RedeemCollateralForSynthetic(caller, asset, collateralAmount, burnAmount)
	})
}

// Liquidate lets the liquidator repay an unhealthy account's debt and seize
// discounted collateral. Returns the seized amount.
func (n *Node) Liquidate(liquidator crypto.Address, asset string, account crypto.Address, debtToCover *big.Int) (*big.Int, error) {
	var seized *big.Int
	err := n.execute("liquidate", func(engine *vault.Engine) error {
		var opErr error
		seized, opErr = engine.Liquidate(liquidator, asset, account, debtToCover)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return seized, nil
}

// SetPrice records an oracle submission: persisted, then applied to the live
// feed. The feed must belong to a registered asset. A zero updatedAt means
// now.
func (n *Node) SetPrice(feedID string, price *big.Int, updatedAt time.Time, source string) error {
	normalized := oracle.NormalizeFeedID(feedID)
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	err := n.setPrice(normalized, price, updatedAt, source)
	observability.Oracle().RecordSubmission(normalized, time.Since(updatedAt), err)
	return err
}

func (n *Node) setPrice(feedID string, price *big.Int, updatedAt time.Time, source string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.feedRegistered(feedID) {
		return fmt.Errorf("%w: %s", oracle.ErrUnknownFeed, feedID)
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("core: price for %s must be positive", feedID)
	}
	staged := n.state.Copy()
	record := state.QuoteRecord{
		Price:     new(big.Int).Set(price),
		UpdatedAt: uint64(updatedAt.Unix()),
		Source:    source,
	}
	if err := staged.SetOracleQuote(feedID, record); err != nil {
		return err
	}
	if err := staged.Commit(); err != nil {
		return err
	}
	return n.feed.SetQuote(feedID, oracle.Quote{Price: price, UpdatedAt: updatedAt, Source: source})
}

func (n *Node) feedRegistered(feedID string) bool {
	for _, entry := range n.registry {
		if entry.FeedID == feedID {
			return true
		}
	}
	return false
}

// LatestQuote returns the live quote for a feed, subject to the staleness
// guard.
func (n *Node) LatestQuote(feedID string) (oracle.Quote, error) {
	return n.guard.LatestQuote(feedID)
}

func (n *Node) queryEngine() (*vault.Engine, error) {
	return n.newEngine(n.state, events.NoopEmitter{})
}

// HealthFactor reports the solvency ratio for addr.
func (n *Node) HealthFactor(addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine, err := n.queryEngine()
	if err != nil {
		return nil, err
	}
	return engine.HealthFactor(addr)
}

// AccountInformation reports debt and total collateral value for addr.
func (n *Node) AccountInformation(addr crypto.Address) (vault.AccountInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine, err := n.queryEngine()
	if err != nil {
		return vault.AccountInfo{}, err
	}
	return engine.AccountInformation(addr)
}

// CollateralBalance reports addr's deposited balance of asset.
func (n *Node) CollateralBalance(addr crypto.Address, asset string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	symbol := state.NormalizeAsset(asset)
	if !n.assetRegistered(symbol) {
		return nil, vault.ErrNotAllowedToken
	}
	return n.state.CollateralBalance(addr, symbol)
}

// SyntheticBalance reports addr's synthetic token balance.
func (n *Node) SyntheticBalance(addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.SyntheticBalance(addr)
}

// DebtBalance reports addr's outstanding synthetic debt.
func (n *Node) DebtBalance(addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.DebtBalance(addr)
}

// USDValue prices amount of asset at the live quote.
func (n *Node) USDValue(asset string, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine, err := n.queryEngine()
	if err != nil {
		return nil, err
	}
	return engine.USDValue(asset, amount)
}

// TokenAmountFromUSD converts a USD value into asset units at the live quote.
func (n *Node) TokenAmountFromUSD(asset string, usd *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine, err := n.queryEngine()
	if err != nil {
		return nil, err
	}
	return engine.TokenAmountFromUSD(asset, usd)
}

// CollateralAssets returns the registered assets in genesis order.
func (n *Node) CollateralAssets() []vault.CollateralAsset {
	out := make([]vault.CollateralAsset, len(n.registry))
	for i, entry := range n.registry {
		out[i] = vault.CollateralAsset{Symbol: entry.Symbol, FeedID: entry.FeedID}
	}
	return out
}

// Parameters reports the engine constants.
func (n *Node) Parameters() vault.Parameters {
	return vault.Parameters{
		LiquidationThreshold: vault.LiquidationThreshold,
		LiquidationPrecision: vault.LiquidationPrecision,
		LiquidationBonus:     vault.LiquidationBonus,
		MinHealthFactor:      new(big.Int).Set(vault.MinHealthFactor),
		Scale:                new(big.Int).Set(vault.Scale),
		FeedPrecision:        new(big.Int).Set(oracle.PriceScale),
	}
}

func (n *Node) assetRegistered(symbol string) bool {
	for _, entry := range n.registry {
		if entry.Symbol == symbol {
			return true
		}
	}
	return false
}

// ProtocolStatus is the vault_getProtocolStatus payload. The valuation
// fields are omitted while any registered feed is stale.
type ProtocolStatus struct {
	TotalSupply        *big.Int                `json:"totalSupply"`
	TotalCollateralUSD *big.Int                `json:"totalCollateralUsd,omitempty"`
	Collateralization  *big.Int                `json:"collateralization,omitempty"`
	JournalHead        uint64                  `json:"journalHead"`
	GenesisHash        []byte                  `json:"genesisHash"`
	PausedModules      []string                `json:"pausedModules"`
	StalenessTimeout   time.Duration           `json:"stalenessTimeout"`
	Assets             []vault.CollateralAsset `json:"assets"`
}

// ProtocolStatus summarizes the running system.
func (n *Node) ProtocolStatus() (ProtocolStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	supply, err := n.state.SyntheticSupply()
	if err != nil {
		return ProtocolStatus{}, err
	}
	genesisHash, err := n.state.GenesisHash()
	if err != nil {
		return ProtocolStatus{}, err
	}
	status := ProtocolStatus{
		TotalSupply:      supply,
		JournalHead:      n.journal.Head(),
		GenesisHash:      genesisHash,
		PausedModules:    n.pauses.snapshot(),
		StalenessTimeout: n.guard.Timeout(),
		Assets:           n.CollateralAssets(),
	}
	if locked, err := n.lockedCollateralUSD(); err == nil {
		status.TotalCollateralUSD = locked
		if supply.Sign() == 0 {
			status.Collateralization = new(big.Int).Set(vault.MaxHealthFactor)
		} else {
			ratio := new(big.Int).Mul(locked, vault.Scale)
			status.Collateralization = ratio.Quo(ratio, supply)
		}
	}
	return status, nil
}

// lockedCollateralUSD values every asset held by the custody account at the
// live quotes.
func (n *Node) lockedCollateralUSD() (*big.Int, error) {
	engine, err := n.queryEngine()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, entry := range n.registry {
		held, err := n.state.AssetBalance(n.custody, entry.Symbol)
		if err != nil {
			return nil, err
		}
		value, err := engine.USDValue(entry.Symbol, held)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

func (n *Node) publish(record *events.Record) {
	n.streamMu.Lock()
	subscribers := make([]chan *events.Record, 0, len(n.streamSubs))
	for _, ch := range n.streamSubs {
		subscribers = append(subscribers, ch)
	}
	n.streamMu.Unlock()
	for _, ch := range subscribers {
		select {
		case ch <- record:
		default:
		}
	}
}

// SubscribeEvents registers a live event subscriber and returns the backlog
// of journaled records with sequence numbers greater than after. The cancel
// function releases the subscription; it also fires when ctx ends.
func (n *Node) SubscribeEvents(ctx context.Context, after uint64) (<-chan *events.Record, func(), []*events.Record, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("core: node not initialised")
	}
	updates := make(chan *events.Record, 32)

	// Registration and backlog read happen under the operation lock so no
	// committed record is both replayed and missed.
	n.mu.Lock()
	backlog, err := n.journal.Range(after, eventBacklogLimit)
	if err != nil {
		n.mu.Unlock()
		return nil, nil, nil, err
	}
	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan *events.Record)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = updates
	n.streamMu.Unlock()
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			sub, ok := n.streamSubs[id]
			if ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			n.streamMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}

// EventRecords pages through the journal for polling consumers.
func (n *Node) EventRecords(after uint64, limit int) ([]*events.Record, error) {
	if limit <= 0 || limit > eventBacklogLimit {
		limit = eventBacklogLimit
	}
	return n.journal.Range(after, limit)
}

type pauseSet struct {
	mu      sync.RWMutex
	modules map[string]bool
}

func newPauseSet(paused []string) *pauseSet {
	set := &pauseSet{modules: make(map[string]bool, len(paused))}
	for _, module := range paused {
		if trimmed := nativecommon.NormalizeModule(module); trimmed != "" {
			set.modules[trimmed] = true
		}
	}
	return set
}

func (p *pauseSet) IsPaused(module string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[nativecommon.NormalizeModule(module)]
}

func (p *pauseSet) set(module string, paused bool) {
	trimmed := nativecommon.NormalizeModule(module)
	if trimmed == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.modules[trimmed] = true
	} else {
		delete(p.modules, trimmed)
	}
}

func (p *pauseSet) snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.modules))
	for module := range p.modules {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}
