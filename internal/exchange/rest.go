package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// RESTExecutor places signed orders against an exchange REST API.
type RESTExecutor struct {
	apiKey     string
	secretKey  string
	baseURL    string
	symbol     string
	httpClient *http.Client
}

// RESTConfig configures the live order executor.
type RESTConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Symbol    string
	Timeout   time.Duration
}

func NewRESTExecutor(cfg RESTConfig) *RESTExecutor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RESTExecutor{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		baseURL:    cfg.BaseURL,
		symbol:     cfg.Symbol,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// orderResponse mirrors the venue's order endpoint payload.
type orderResponse struct {
	OrderId             int64   `json:"orderId"`
	TransactTime        int64   `json:"transactTime"`
	Price               float64 `json:"price,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	Side                string  `json:"side"`
}

// PlaceOrder submits a signed quote-denominated order. Market when
// limitPrice is nil, limit otherwise.
func (e *RESTExecutor) PlaceOrder(ctx context.Context, side Side, usdSize decimal.Decimal, limitPrice *decimal.Decimal) (OrderResult, error) {
	params := map[string]string{
		"symbol":        e.symbol,
		"side":          string(side),
		"quoteOrderQty": usdSize.String(),
		"type":          "MARKET",
		"timestamp":     strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if limitPrice != nil {
		params["type"] = "LIMIT"
		params["timeInForce"] = "GTC"
		params["price"] = limitPrice.String()
	}
	params["signature"] = e.sign(params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	endpoint := fmt.Sprintf("%s/api/v3/order", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return OrderResult{}, err
	}
	req.URL.RawQuery = values.Encode()
	req.Header.Set("X-MBX-APIKEY", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return OrderResult{}, fmt.Errorf("error placing order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return OrderResult{}, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return OrderResult{}, fmt.Errorf("%w: %s", ErrOrderRejected, string(body))
	}

	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return OrderResult{}, fmt.Errorf("error parsing order response: %w", err)
	}
	if order.Status != "FILLED" && order.Status != "PARTIALLY_FILLED" {
		return OrderResult{}, fmt.Errorf("%w: status %s", ErrOrderRejected, order.Status)
	}

	fillPrice := order.Price
	if fillPrice == 0 && order.ExecutedQty > 0 {
		fillPrice = order.CummulativeQuoteQty / order.ExecutedQty
	}

	return OrderResult{
		OrderID:     strconv.FormatInt(order.OrderId, 10),
		FilledPrice: decimal.NewFromFloat(fillPrice),
		FilledSize:  decimal.NewFromFloat(order.CummulativeQuoteQty),
	}, nil
}

// sign produces the HMAC-SHA256 signature over the sorted query string.
func (e *RESTExecutor) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}

	mac := hmac.New(sha256.New, []byte(e.secretKey))
	mac.Write([]byte(values.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}
