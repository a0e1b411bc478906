package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gardenpay/backend/internal/models"
)

// PlaceholderEndpoint is the value shipped in the sample config. An
// endpoint still set to it must be rejected before any network attempt.
const PlaceholderEndpoint = "https://ecommerce.example.bank/MerchantHandler"

// EcommConfig configures the mutual-TLS gateway. All three certificate
// paths must exist and be readable before any request is made.
type EcommConfig struct {
	Endpoint string
	CertFile string
	KeyFile  string
	CAFile   string
	Timeout  time.Duration
}

// EcommClient is the certificate-authenticated gateway variant. Every
// request presents the merchant client certificate and validates the bank
// against the configured CA bundle. Order registration returns a bank
// order id plus a one-time secret that must accompany every status query.
type EcommClient struct {
	config EcommConfig

	// The TLS client is built once on first use and shared by the
	// callback handler, the status poll and the reconcile sweep.
	initOnce sync.Once
	http     *http.Client
	httpErr  error
}

func NewEcommClient(config EcommConfig) *EcommClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &EcommClient{config: config}
}

func (c *EcommClient) Kind() models.GatewayKind {
	return models.GatewayEcomm
}

// checkConfig verifies endpoint and certificate materials without touching
// the network. Failures here are configuration errors, never transport ones.
func (c *EcommClient) checkConfig() error {
	if c.config.Endpoint == "" {
		return &ConfigError{Kind: "ecomm", Reason: "endpoint not set"}
	}
	if strings.EqualFold(strings.TrimRight(c.config.Endpoint, "/"), strings.TrimRight(PlaceholderEndpoint, "/")) {
		return &ConfigError{Kind: "ecomm", Reason: "endpoint not yet configured (placeholder value)"}
	}

	for name, path := range map[string]string{
		"client certificate": c.config.CertFile,
		"client key":         c.config.KeyFile,
		"CA bundle":          c.config.CAFile,
	} {
		if path == "" {
			return &ConfigError{Kind: "ecomm", Reason: name + " path not set"}
		}
		f, err := os.Open(path)
		if err != nil {
			return &ConfigError{Kind: "ecomm", Reason: fmt.Sprintf("%s not readable at %s: %v", name, path, err)}
		}
		f.Close()
	}
	return nil
}

func (c *EcommClient) client() (*http.Client, error) {
	c.initOnce.Do(func() {
		c.http, c.httpErr = c.buildClient()
	})
	return c.http, c.httpErr
}

func (c *EcommClient) buildClient() (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(c.config.CertFile, c.config.KeyFile)
	if err != nil {
		return nil, &ConfigError{Kind: "ecomm", Reason: fmt.Sprintf("loading client certificate: %v", err)}
	}

	caPEM, err := os.ReadFile(c.config.CAFile)
	if err != nil {
		return nil, &ConfigError{Kind: "ecomm", Reason: fmt.Sprintf("reading CA bundle: %v", err)}
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, &ConfigError{Kind: "ecomm", Reason: "CA bundle contains no valid certificates"}
	}

	return &http.Client{
		Timeout: c.config.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				RootCAs:      caPool,
				MinVersion:   tls.VersionTLS12,
			},
		},
	}, nil
}

type ecommResponse struct {
	OrderID     string `json:"orderId"`
	OrderSecret string `json:"orderPassword"`
	Status      string `json:"orderStatus"`
	Result      string `json:"result"`
}

func (c *EcommClient) CreateOrder(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error) {
	if err := c.checkConfig(); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("command", "v")
	form.Set("merchant_order_id", params.LocalOrderID)
	form.Set("amount", fmt.Sprintf("%d", models.MinorUnits(params.Amount)))
	form.Set("currency", params.Currency)
	form.Set("description", params.Description)
	if params.ClientIP != "" {
		form.Set("client_ip_addr", params.ClientIP)
	}

	raw, err := c.post(ctx, form)
	if err != nil {
		return nil, err
	}

	var resp ecommResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Kind: "ecomm", Body: string(raw), Reason: "malformed JSON body"}
	}
	if resp.OrderID == "" || resp.OrderSecret == "" {
		return nil, &ProtocolError{Kind: "ecomm", Body: string(raw), Reason: "response missing orderId or orderPassword"}
	}

	// The secret is a credential: log the id only.
	log.Printf("[GATEWAY] ecomm order registered: local=%s bank=%s", params.LocalOrderID, resp.OrderID)
	return &CreateOrderResult{
		BankOrderID:     resp.OrderID,
		BankOrderSecret: resp.OrderSecret,
	}, nil
}

func (c *EcommClient) GetOrderDetails(ctx context.Context, bankOrderID, bankOrderSecret string) (*OrderDetails, error) {
	if err := c.checkConfig(); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("command", "c")
	form.Set("trans_id", bankOrderID)
	form.Set("order_password", bankOrderSecret)

	raw, err := c.post(ctx, form)
	if err != nil {
		return nil, err
	}

	var resp ecommResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Kind: "ecomm", Body: string(raw), Reason: "malformed JSON body"}
	}
	status := resp.Status
	if status == "" {
		status = resp.Result
	}
	if status == "" {
		return nil, &ProtocolError{Kind: "ecomm", Body: string(raw), Reason: "response missing orderStatus"}
	}

	return &OrderDetails{RawStatus: status, RawPayload: raw}, nil
}

func (c *EcommClient) post(ctx context.Context, form url.Values) ([]byte, error) {
	httpClient, err := c.client()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Kind: "ecomm", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Kind: "ecomm", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("[GATEWAY] ecomm returned %d: %s", resp.StatusCode, raw)
		return nil, &ProtocolError{Kind: "ecomm", StatusCode: resp.StatusCode, Body: string(raw), Reason: fmt.Sprintf("non-2xx response (%d)", resp.StatusCode)}
	}

	return raw, nil
}
