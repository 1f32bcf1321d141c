package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var oracleQuotePrefix = []byte("oracle/quote:")

func quoteKey(feedID string) []byte {
	buf := make([]byte, 0, len(oracleQuotePrefix)+len(feedID))
	buf = append(buf, oracleQuotePrefix...)
	buf = append(buf, feedID...)
	return ethcrypto.Keccak256(buf)
}

// QuoteRecord is the persisted form of an oracle submission, so restarts keep
// the last accepted price and its original timestamp for staleness checks.
type QuoteRecord struct {
	Price     *big.Int
	UpdatedAt uint64
	Source    string
}

// OracleQuote loads the persisted quote for a feed; nil means no submission
// has been recorded.
func (m *Manager) OracleQuote(feedID string) (*QuoteRecord, error) {
	data, err := m.get(quoteKey(feedID))
	if err != nil {
		return nil, fmt.Errorf("state: load quote %s: %w", feedID, err)
	}
	if data == nil {
		return nil, nil
	}
	record := new(QuoteRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("state: decode quote %s: %w", feedID, err)
	}
	return record, nil
}

// SetOracleQuote stages the persisted quote for a feed.
func (m *Manager) SetOracleQuote(feedID string, record QuoteRecord) error {
	if record.Price == nil || record.Price.Sign() <= 0 {
		return fmt.Errorf("state: quote price must be positive")
	}
	data, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return fmt.Errorf("state: encode quote %s: %w", feedID, err)
	}
	m.put(quoteKey(feedID), data)
	return nil
}
