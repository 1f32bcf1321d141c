package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceDecimals is the fixed decimal precision of feed prices. A quote of
// 2000 USD is carried as 2000 * 10^8.
const PriceDecimals = 8

// PriceScale is 10^PriceDecimals.
var PriceScale = big.NewInt(100_000_000)

// DefaultStalenessTimeout is the maximum quote age accepted by the stale
// guard when the operator does not configure one.
const DefaultStalenessTimeout = 3 * time.Hour

var (
	// ErrStalePrice marks a quote older than the staleness timeout. Every
	// valuation that depends on the feed fails with it until fresh data
	// arrives; there is no fallback value.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrUnknownFeed marks a feed identifier with no recorded quote.
	ErrUnknownFeed = errors.New("oracle: unknown feed")
)

// Quote is a point-in-time price observation for a feed.
type Quote struct {
	// Price is the USD price scaled by PriceScale. Consumers assume it is
	// positive; a non-positive stored price is an upstream bug.
	Price     *big.Int
	UpdatedAt time.Time
	Source    string
}

// Clone returns a deep copy so callers can hold quotes without sharing the
// price pointer.
func (q Quote) Clone() Quote {
	cloned := Quote{UpdatedAt: q.UpdatedAt, Source: q.Source}
	if q.Price != nil {
		cloned.Price = new(big.Int).Set(q.Price)
	}
	return cloned
}

// Feed serves the latest known quote for a feed identifier.
type Feed interface {
	LatestQuote(feedID string) (Quote, error)
}

// NormalizeFeedID canonicalizes feed identifiers for map keys.
func NormalizeFeedID(feedID string) string {
	return strings.ToLower(strings.TrimSpace(feedID))
}

// ParsePrice converts a decimal USD string ("2012.55") into the scaled
// integer representation, truncating digits beyond PriceDecimals.
func ParsePrice(decimal string) (*big.Int, error) {
	trimmed := strings.TrimSpace(decimal)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("oracle: invalid price %q", decimal)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: price must be positive")
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(PriceScale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// FormatPrice renders a scaled price back to its decimal USD string.
func FormatPrice(price *big.Int) string {
	if price == nil {
		return "0"
	}
	rat := new(big.Rat).SetFrac(price, PriceScale)
	out := rat.FloatString(PriceDecimals)
	out = strings.TrimRight(out, "0")
	return strings.TrimSuffix(out, ".")
}

// ManualFeed is an in-memory feed fed by the operator (or tests) through
// explicit Set calls.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]Quote)}
}

// Set records a scaled price for the feed.
func (m *ManualFeed) Set(feedID string, price *big.Int, updatedAt time.Time) error {
	return m.SetQuote(feedID, Quote{Price: price, UpdatedAt: updatedAt, Source: "manual"})
}

// SetQuote records a fully-specified quote for the feed.
func (m *ManualFeed) SetQuote(feedID string, quote Quote) error {
	if m == nil {
		return fmt.Errorf("oracle: manual feed not configured")
	}
	key := NormalizeFeedID(feedID)
	if key == "" {
		return fmt.Errorf("oracle: feed id required")
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return fmt.Errorf("oracle: price must be positive")
	}
	m.mu.Lock()
	m.quotes[key] = quote.Clone()
	m.mu.Unlock()
	return nil
}

// SetDecimal records a decimal USD price for the feed.
func (m *ManualFeed) SetDecimal(feedID, decimal string, updatedAt time.Time) error {
	price, err := ParsePrice(decimal)
	if err != nil {
		return err
	}
	return m.Set(feedID, price, updatedAt)
}

// LatestQuote implements Feed.
func (m *ManualFeed) LatestQuote(feedID string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("oracle: manual feed not configured")
	}
	key := NormalizeFeedID(feedID)
	m.mu.RLock()
	stored, ok := m.quotes[key]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, key)
	}
	return stored.Clone(), nil
}

// StaleGuard wraps a feed and rejects quotes at or beyond the staleness
// timeout. Valuations stop entirely until the upstream feed recovers.
type StaleGuard struct {
	feed    Feed
	timeout time.Duration
	now     func() time.Time
}

// NewStaleGuard wraps the feed. A non-positive timeout falls back to
// DefaultStalenessTimeout.
func NewStaleGuard(feed Feed, timeout time.Duration) *StaleGuard {
	if timeout <= 0 {
		timeout = DefaultStalenessTimeout
	}
	return &StaleGuard{feed: feed, timeout: timeout, now: time.Now}
}

// SetNowFunc overrides the clock (primarily for deterministic testing).
func (g *StaleGuard) SetNowFunc(now func() time.Time) {
	if g == nil || now == nil {
		return
	}
	g.now = now
}

// Timeout returns the configured staleness window.
func (g *StaleGuard) Timeout() time.Duration {
	if g == nil {
		return 0
	}
	return g.timeout
}

// LatestQuote implements Feed, failing with ErrStalePrice when the upstream
// quote's age meets or exceeds the timeout.
func (g *StaleGuard) LatestQuote(feedID string) (Quote, error) {
	if g == nil || g.feed == nil {
		return Quote{}, fmt.Errorf("oracle: stale guard not configured")
	}
	quote, err := g.feed.LatestQuote(feedID)
	if err != nil {
		return Quote{}, err
	}
	age := g.now().Sub(quote.UpdatedAt)
	if age >= g.timeout {
		return Quote{}, fmt.Errorf("%w: feed %s quote age %s", ErrStalePrice, NormalizeFeedID(feedID), age)
	}
	return quote, nil
}
