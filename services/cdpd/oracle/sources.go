package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Quote is a single source observation in the unit of account.
type Quote struct {
	Price     *big.Rat
	Timestamp time.Time
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	out := Quote{Timestamp: q.Timestamp}
	if q.Price != nil {
		out.Price = new(big.Rat).Set(q.Price)
	}
	return out
}

// Source resolves a price quote for an asset symbol.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (Quote, error)
}

// StaticSource reports fixed prices, stamped with the current time.
type StaticSource struct {
	name   string
	prices map[string]*big.Rat
	clock  func() time.Time
}

// NewStaticSource parses decimal prices keyed by symbol.
func NewStaticSource(name string, prices map[string]string) (*StaticSource, error) {
	parsed := make(map[string]*big.Rat, len(prices))
	for symbol, raw := range prices {
		rat, ok := new(big.Rat).SetString(strings.TrimSpace(raw))
		if !ok {
			return nil, fmt.Errorf("static source %s: invalid price %q for %s", name, raw, symbol)
		}
		parsed[normaliseSymbol(symbol)] = rat
	}
	return &StaticSource{name: name, prices: parsed, clock: time.Now}, nil
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Fetch(_ context.Context, symbol string) (Quote, error) {
	price, ok := s.prices[normaliseSymbol(symbol)]
	if !ok {
		return Quote{}, fmt.Errorf("static source %s: no price for %s", s.name, symbol)
	}
	return Quote{Price: new(big.Rat).Set(price), Timestamp: s.clock()}, nil
}

// HTTPSource fetches {"price": "1234.56", "timestamp": 1700000000} from an
// endpoint. The URL may contain a {symbol} placeholder.
type HTTPSource struct {
	name     string
	endpoint string
	client   *http.Client
}

func NewHTTPSource(name, endpoint string, client *http.Client) (*HTTPSource, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("http source %s: endpoint required", name)
	}
	if _, err := url.Parse(strings.ReplaceAll(trimmed, "{symbol}", "X")); err != nil {
		return nil, fmt.Errorf("http source %s: %w", name, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{name: name, endpoint: trimmed, client: client}, nil
}

func (s *HTTPSource) Name() string { return s.name }

type httpQuote struct {
	Price     json.Number `json:"price"`
	Timestamp int64       `json:"timestamp"`
}

func (s *HTTPSource) Fetch(ctx context.Context, symbol string) (Quote, error) {
	target := strings.ReplaceAll(s.endpoint, "{symbol}", url.PathEscape(normaliseSymbol(symbol)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("http source %s: status %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload httpQuote
	decoder := json.NewDecoder(io.LimitReader(resp.Body, 1<<16))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("http source %s: decode: %w", s.name, err)
	}
	price, ok := new(big.Rat).SetString(payload.Price.String())
	if !ok {
		return Quote{}, fmt.Errorf("http source %s: invalid price %q", s.name, payload.Price)
	}
	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp == 0 {
		ts = time.Now()
	}
	return Quote{Price: price, Timestamp: ts}, nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ParseAnswer converts a decimal price into a feed answer with FeedDecimals,
// truncating extra digits.
func ParseAnswer(raw string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(raw))
	if !ok {
		return nil, fmt.Errorf("oracle: invalid price %q", raw)
	}
	return toAnswer(rat), nil
}

var answerScale = big.NewInt(100_000_000)

func toAnswer(price *big.Rat) *big.Int {
	num := new(big.Int).Mul(price.Num(), answerScale)
	return num.Quo(num, price.Denom())
}

// FormatAnswer renders a feed answer as a decimal string.
func FormatAnswer(answer *big.Int) string {
	if answer == nil {
		return ""
	}
	return new(big.Rat).SetFrac(answer, answerScale).FloatString(8)
}

func answerFloat(answer *big.Int) float64 {
	value, err := strconv.ParseFloat(FormatAnswer(answer), 64)
	if err != nil {
		return 0
	}
	return value
}
