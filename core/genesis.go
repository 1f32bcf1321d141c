package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"dusd/core/state"
	"dusd/crypto"
	"dusd/native/oracle"
)

// ErrGenesisMismatch is returned when a node is started against a database
// initialised from a different genesis document.
var ErrGenesisMismatch = errors.New("core: genesis does not match database")

// GenesisAsset registers one collateral asset and the price feed that values
// it.
type GenesisAsset struct {
	Symbol string `json:"symbol"`
	Feed   string `json:"feed"`
}

// GenesisSpec is the first-boot document: the immutable asset registry,
// optional free-balance allocations, and optional seed prices for the manual
// oracle. Amounts are base-10 integers in 18-decimal base units; prices are
// decimal USD strings.
type GenesisSpec struct {
	Assets        []GenesisAsset               `json:"assets"`
	Alloc         map[string]map[string]string `json:"alloc,omitempty"`
	InitialPrices map[string]string            `json:"initialPrices,omitempty"`
}

// LoadGenesis reads and validates a genesis document. Unknown fields are
// rejected so typos fail loudly.
func LoadGenesis(path string) (*GenesisSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("core: read genesis: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	spec := new(GenesisSpec)
	if err := decoder.Decode(spec); err != nil {
		return nil, fmt.Errorf("core: parse genesis: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// DefaultGenesis returns the autogenesis document used when a fresh node is
// started without an explicit genesis file.
func DefaultGenesis() *GenesisSpec {
	return &GenesisSpec{
		Assets: []GenesisAsset{
			{Symbol: "WETH", Feed: "eth-usd"},
			{Symbol: "WBTC", Feed: "btc-usd"},
		},
		InitialPrices: map[string]string{
			"eth-usd": "2000",
			"btc-usd": "30000",
		},
	}
}

// Validate checks internal consistency: unique non-empty assets, allocations
// naming registered symbols and well-formed addresses, and parseable prices
// for registered feeds.
func (s *GenesisSpec) Validate() error {
	if s == nil {
		return fmt.Errorf("core: genesis must not be nil")
	}
	if len(s.Assets) == 0 {
		return fmt.Errorf("core: genesis must register at least one asset")
	}
	symbols := make(map[string]bool, len(s.Assets))
	feeds := make(map[string]bool, len(s.Assets))
	for i, asset := range s.Assets {
		symbol := state.NormalizeAsset(asset.Symbol)
		feed := oracle.NormalizeFeedID(asset.Feed)
		if symbol == "" {
			return fmt.Errorf("core: genesis asset %d: symbol must not be empty", i)
		}
		if feed == "" {
			return fmt.Errorf("core: genesis asset %s: feed must not be empty", symbol)
		}
		if symbols[symbol] {
			return fmt.Errorf("core: genesis asset %s registered twice", symbol)
		}
		symbols[symbol] = true
		feeds[feed] = true
	}
	for addr, balances := range s.Alloc {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("core: genesis alloc %s: %w", addr, err)
		}
		for symbol, amount := range balances {
			if !symbols[state.NormalizeAsset(symbol)] {
				return fmt.Errorf("core: genesis alloc %s: asset %s not registered", addr, symbol)
			}
			value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
			if !ok || value.Sign() <= 0 {
				return fmt.Errorf("core: genesis alloc %s: invalid amount %q for %s", addr, amount, symbol)
			}
		}
	}
	for feed, price := range s.InitialPrices {
		if !feeds[oracle.NormalizeFeedID(feed)] {
			return fmt.Errorf("core: genesis price for unregistered feed %s", feed)
		}
		if _, err := oracle.ParsePrice(price); err != nil {
			return fmt.Errorf("core: genesis price %s: %w", feed, err)
		}
	}
	return nil
}

// Hash returns the keccak commitment over the canonical JSON encoding. Map
// keys marshal in sorted order, so equal documents hash equally.
func (s *GenesisSpec) Hash() ([]byte, error) {
	encoded, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("core: hash genesis: %w", err)
	}
	return ethcrypto.Keccak256(encoded), nil
}

// apply stages the genesis document into the manager: registry, allocations,
// seed quotes, and the genesis hash marker. The caller commits.
func (s *GenesisSpec) apply(mgr *state.Manager, nowUnix uint64) error {
	entries := make([]state.AssetEntry, len(s.Assets))
	for i, asset := range s.Assets {
		entries[i] = state.AssetEntry{
			Symbol: state.NormalizeAsset(asset.Symbol),
			FeedID: oracle.NormalizeFeedID(asset.Feed),
		}
	}
	if err := mgr.WriteAssetRegistry(entries); err != nil {
		return err
	}
	addrs := make([]string, 0, len(s.Alloc))
	for addr := range s.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		account, err := crypto.DecodeAddress(addr)
		if err != nil {
			return err
		}
		for symbol, amount := range s.Alloc[addr] {
			value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
			if !ok {
				return fmt.Errorf("core: genesis alloc %s: invalid amount %q", addr, amount)
			}
			if err := mgr.SetAssetBalance(account, symbol, value); err != nil {
				return err
			}
		}
	}
	for feed, decimal := range s.InitialPrices {
		price, err := oracle.ParsePrice(decimal)
		if err != nil {
			return err
		}
		record := state.QuoteRecord{Price: price, UpdatedAt: nowUnix, Source: "genesis"}
		if err := mgr.SetOracleQuote(oracle.NormalizeFeedID(feed), record); err != nil {
			return err
		}
	}
	hash, err := s.Hash()
	if err != nil {
		return err
	}
	return mgr.SetGenesisHash(hash)
}
