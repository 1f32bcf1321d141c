package state

import (
	"fmt"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"dusd/crypto"
	"dusd/storage"
)

// Manager reads and writes ledger records over a key-value database. Writes
// are staged in memory until Commit flushes them, so an operation that fails
// mid-flight leaves the database untouched: callers run each operation on a
// Copy and commit only on success.
//
// A Manager is not safe for concurrent use.
type Manager struct {
	db    storage.Database
	dirty map[string][]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

var (
	registryKey      = ethcrypto.Keccak256([]byte("vault/asset-registry"))
	genesisKey       = ethcrypto.Keccak256([]byte("vault/genesis"))
	synthSupplyKey   = ethcrypto.Keccak256([]byte("synth/supply"))
	collateralPrefix = []byte("vault/collateral:")
	debtPrefix       = []byte("vault/debt:")
	assetPrefix      = []byte("bank/balance:")
	synthPrefix      = []byte("synth/balance:")
)

func collateralKey(asset string, addr crypto.Address) []byte {
	return hashedKey(collateralPrefix, asset, addr.Bytes())
}

func debtKey(addr crypto.Address) []byte {
	return hashedKey(debtPrefix, "", addr.Bytes())
}

func assetKey(asset string, addr crypto.Address) []byte {
	return hashedKey(assetPrefix, asset, addr.Bytes())
}

func synthKey(addr crypto.Address) []byte {
	return hashedKey(synthPrefix, "", addr.Bytes())
}

func hashedKey(prefix []byte, symbol string, addr []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(symbol)+1+len(addr))
	buf = append(buf, prefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

// NormalizeAsset canonicalizes an asset symbol for keying and registry
// lookups.
func NormalizeAsset(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if staged, ok := m.dirty[string(key)]; ok {
		buf := make([]byte, len(staged))
		copy(buf, staged)
		return buf, nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (m *Manager) put(key, value []byte) {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.dirty[string(key)] = buf
}

// Copy returns a manager sharing the same database but with an independent
// staging area seeded from the receiver's pending writes. Commit on the copy
// does not affect the original.
func (m *Manager) Copy() *Manager {
	cloned := &Manager{db: m.db, dirty: make(map[string][]byte, len(m.dirty))}
	for k, v := range m.dirty {
		buf := make([]byte, len(v))
		copy(buf, v)
		cloned.dirty[k] = buf
	}
	return cloned
}

// Commit flushes staged writes to the database in deterministic key order and
// clears the staging area.
func (m *Manager) Commit() error {
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.db.Put([]byte(k), m.dirty[k]); err != nil {
			return fmt.Errorf("state: commit %x: %w", k, err)
		}
	}
	m.dirty = make(map[string][]byte)
	return nil
}

// Reset discards all staged writes.
func (m *Manager) Reset() {
	m.dirty = make(map[string][]byte)
}

// Pending reports how many staged writes are waiting for Commit.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// --- Asset registry ---

// AssetEntry pairs a collateral asset symbol with its price feed identifier.
type AssetEntry struct {
	Symbol string
	FeedID string
}

// WriteAssetRegistry persists the supported-asset registry. The registry is
// written once; rewriting with different content is rejected.
func (m *Manager) WriteAssetRegistry(entries []AssetEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("state: asset registry must not be empty")
	}
	normalized := make([]AssetEntry, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		symbol := NormalizeAsset(entry.Symbol)
		if symbol == "" {
			return fmt.Errorf("state: asset symbol must not be empty")
		}
		if strings.TrimSpace(entry.FeedID) == "" {
			return fmt.Errorf("state: asset %s: feed id must not be empty", symbol)
		}
		if seen[symbol] {
			return fmt.Errorf("state: asset %s registered twice", symbol)
		}
		seen[symbol] = true
		normalized[i] = AssetEntry{Symbol: symbol, FeedID: strings.TrimSpace(entry.FeedID)}
	}
	existing, err := m.AssetRegistry()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("state: asset registry already written")
	}
	encoded, err := rlp.EncodeToBytes(normalized)
	if err != nil {
		return err
	}
	m.put(registryKey, encoded)
	return nil
}

// AssetRegistry returns the registry in insertion order. An empty registry
// means genesis has not run.
func (m *Manager) AssetRegistry() ([]AssetEntry, error) {
	data, err := m.get(registryKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []AssetEntry
	if err := rlp.DecodeBytes(data, &entries); err != nil {
		return nil, fmt.Errorf("state: decode asset registry: %w", err)
	}
	return entries, nil
}

// --- Genesis marker ---

// GenesisHash returns the hash recorded when genesis was applied, or nil.
func (m *Manager) GenesisHash() ([]byte, error) {
	return m.get(genesisKey)
}

// SetGenesisHash records the applied genesis content hash.
func (m *Manager) SetGenesisHash(hash []byte) error {
	if len(hash) == 0 {
		return fmt.Errorf("state: genesis hash must not be empty")
	}
	m.put(genesisKey, hash)
	return nil
}
