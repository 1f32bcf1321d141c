package modules

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"dusd/core"
	"dusd/native/oracle"
)

// OracleModule adapts manual price submissions and quote lookups for the
// JSON-RPC surface.
type OracleModule struct {
	node *core.Node
}

func NewOracleModule(node *core.Node) *OracleModule {
	return &OracleModule{node: node}
}

type setPriceParams struct {
	Feed string `json:"feed"`
	// Price is a decimal USD string such as "2012.55".
	Price string `json:"price"`
	// UpdatedAt is the upstream observation time in unix seconds; zero
	// means now.
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Source    string `json:"source,omitempty"`
}

type quoteParams struct {
	Feed string `json:"feed"`
}

// QuoteResult is a feed quote rendered for RPC consumers.
type QuoteResult struct {
	Feed        string   `json:"feed"`
	Price       string   `json:"price"`
	ScaledPrice *big.Int `json:"scaledPrice"`
	UpdatedAt   int64    `json:"updatedAt"`
	Source      string   `json:"source,omitempty"`
}

func (m *OracleModule) SetPrice(raw json.RawMessage) (*QuoteResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params setPriceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	price, err := oracle.ParsePrice(params.Price)
	if err != nil {
		return nil, invalidParams("invalid price", err.Error())
	}
	updatedAt := time.Now()
	if params.UpdatedAt > 0 {
		updatedAt = time.Unix(params.UpdatedAt, 0)
	}
	source := strings.TrimSpace(params.Source)
	if source == "" {
		source = "rpc"
	}
	if err := m.node.SetPrice(params.Feed, price, updatedAt, source); err != nil {
		return nil, moduleError(err)
	}
	return &QuoteResult{
		Feed:        oracle.NormalizeFeedID(params.Feed),
		Price:       oracle.FormatPrice(price),
		ScaledPrice: price,
		UpdatedAt:   updatedAt.Unix(),
		Source:      source,
	}, nil
}

func (m *OracleModule) GetQuote(raw json.RawMessage) (*QuoteResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params quoteParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	if strings.TrimSpace(params.Feed) == "" {
		return nil, invalidParams("feed is required", nil)
	}
	quote, err := m.node.LatestQuote(params.Feed)
	if err != nil {
		return nil, moduleError(err)
	}
	return &QuoteResult{
		Feed:        oracle.NormalizeFeedID(params.Feed),
		Price:       oracle.FormatPrice(quote.Price),
		ScaledPrice: quote.Price,
		UpdatedAt:   quote.UpdatedAt.Unix(),
		Source:      quote.Source,
	}, nil
}

func (m *OracleModule) ready() *ModuleError {
	if m == nil || m.node == nil {
		return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "oracle module not initialised"}
	}
	return nil
}
