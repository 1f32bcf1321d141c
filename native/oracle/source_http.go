package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource fetches spot prices from a CoinGecko-compatible simple-price
// endpoint. idMap maps feed identifiers to upstream asset identifiers.
type HTTPSource struct {
	client   HTTPDoer
	endpoint string
	idMap    map[string]string
}

const defaultPriceEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// NewHTTPSource constructs an adapter. A nil client falls back to
// http.DefaultClient; an empty endpoint falls back to the public API.
func NewHTTPSource(client HTTPDoer, endpoint string, idMap map[string]string) *HTTPSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultPriceEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[NormalizeFeedID(k)] = strings.TrimSpace(v)
	}
	return &HTTPSource{client: client, endpoint: ep, idMap: mapped}
}

func (s *HTTPSource) assetID(feedID string) string {
	if s == nil {
		return ""
	}
	if id, ok := s.idMap[NormalizeFeedID(feedID)]; ok && id != "" {
		return id
	}
	return ""
}

// LatestQuote implements Feed against the upstream HTTP API.
func (s *HTTPSource) LatestQuote(feedID string) (Quote, error) {
	if s == nil {
		return Quote{}, fmt.Errorf("oracle: http source not configured")
	}
	id := s.assetID(feedID)
	if id == "" {
		return Quote{}, fmt.Errorf("%w: %s has no upstream mapping", ErrUnknownFeed, NormalizeFeedID(feedID))
	}
	req, err := http.NewRequest(http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()

	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("oracle: http source status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("oracle: http source decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Quote{}, fmt.Errorf("oracle: http source missing quote for %s", id)
	}

	priceStr := ""
	if raw, exists := entry["usd"]; exists {
		switch v := raw.(type) {
		case json.Number:
			priceStr = v.String()
		case string:
			priceStr = v
		case float64:
			priceStr = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			priceStr = fmt.Sprintf("%v", v)
		}
	}
	price, err := ParsePrice(priceStr)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: http source price: %w", err)
	}

	var updatedAt time.Time
	if rawTs, exists := entry["last_updated_at"]; exists {
		switch v := rawTs.(type) {
		case json.Number:
			if parsed, err := v.Int64(); err == nil && parsed > 0 {
				updatedAt = time.Unix(parsed, 0)
			}
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && parsed > 0 {
				updatedAt = time.Unix(parsed, 0)
			}
		case float64:
			if v > 0 {
				updatedAt = time.Unix(int64(v), 0)
			}
		}
	}
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return Quote{Price: price, UpdatedAt: updatedAt, Source: "coingecko"}, nil
}
