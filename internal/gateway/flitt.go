package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gardenpay/backend/internal/models"
)

// FlittConfig configures the bearer-token REST gateway.
type FlittConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FlittClient is the bearer-token gateway variant. Order registration is a
// single HTTPS POST; the synchronous response carries the transaction id
// and the hosted checkout URL.
type FlittClient struct {
	config FlittConfig
	http   *http.Client
}

func NewFlittClient(config FlittConfig) *FlittClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &FlittClient{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

func (c *FlittClient) Kind() models.GatewayKind {
	return models.GatewayFlitt
}

type flittOrderRequest struct {
	MerchantOrderID string `json:"merchant_order_id"`
	Amount          int64  `json:"amount"` // minor units
	Currency        string `json:"currency"`
	Description     string `json:"description,omitempty"`
	Language        string `json:"lang,omitempty"`
}

type flittOrderResponse struct {
	OrderID     string `json:"order_id"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"order_status"`
	ErrorMsg    string `json:"error_message"`
}

func (c *FlittClient) CreateOrder(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error) {
	if c.config.BaseURL == "" || c.config.APIKey == "" {
		return nil, &ConfigError{Kind: "flitt", Reason: "base URL or API key not configured"}
	}

	body := flittOrderRequest{
		MerchantOrderID: params.LocalOrderID,
		Amount:          models.MinorUnits(params.Amount),
		Currency:        params.Currency,
		Description:     params.Description,
		Language:        params.Language,
	}

	var resp flittOrderResponse
	if err := c.post(ctx, c.config.BaseURL+"/api/checkout/orders", body, &resp); err != nil {
		return nil, err
	}

	if resp.OrderID == "" {
		return nil, &ProtocolError{Kind: "flitt", Reason: "response missing order_id"}
	}

	log.Printf("[GATEWAY] flitt order registered: local=%s bank=%s", params.LocalOrderID, resp.OrderID)
	return &CreateOrderResult{
		BankOrderID: resp.OrderID,
		RedirectURL: resp.CheckoutURL,
	}, nil
}

// GetOrderDetails queries live order status. The bearer variant has no
// per-order secret; the merchant API key authenticates the query.
func (c *FlittClient) GetOrderDetails(ctx context.Context, bankOrderID, _ string) (*OrderDetails, error) {
	if c.config.BaseURL == "" || c.config.APIKey == "" {
		return nil, &ConfigError{Kind: "flitt", Reason: "base URL or API key not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/api/checkout/orders/"+bankOrderID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Kind: "flitt", Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Kind: "flitt", Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		log.Printf("[GATEWAY] flitt status query returned %d for order %s: %s", httpResp.StatusCode, bankOrderID, raw)
		return nil, &ProtocolError{Kind: "flitt", StatusCode: httpResp.StatusCode, Body: string(raw), Reason: "non-2xx response"}
	}

	var resp flittOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Kind: "flitt", StatusCode: httpResp.StatusCode, Body: string(raw), Reason: "malformed JSON body"}
	}
	if resp.Status == "" {
		return nil, &ProtocolError{Kind: "flitt", StatusCode: httpResp.StatusCode, Body: string(raw), Reason: "response missing order_status"}
	}

	return &OrderDetails{RawStatus: resp.Status, RawPayload: raw}, nil
}

func (c *FlittClient) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Kind: "flitt", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Kind: "flitt", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("[GATEWAY] flitt returned %d: %s", resp.StatusCode, raw)
		return &ProtocolError{Kind: "flitt", StatusCode: resp.StatusCode, Body: string(raw), Reason: fmt.Sprintf("non-2xx response (%d)", resp.StatusCode)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ProtocolError{Kind: "flitt", StatusCode: resp.StatusCode, Body: string(raw), Reason: "malformed JSON body"}
	}
	return nil
}
