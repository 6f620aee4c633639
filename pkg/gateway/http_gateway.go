package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// environmentURLs maps environment names to processor API base URLs
var environmentURLs = map[string]string{
	"sandbox":    "https://sandbox.api.paylane.io/v1",
	"production": "https://api.paylane.io/v1",
}

// currencyExponents lists each currency's minor-unit exponent on the wire.
// Zero-decimal currencies send whole amounts; the processor rejects "2500.00"
// for JPY.
var currencyExponents = map[string]int32{
	"USD": 2,
	"LKR": 2,
	"EUR": 2,
	"GBP": 2,
	"JPY": 0,
	"BHD": 3,
}

// wireAmount formats an amount at the currency's minor unit for the API
// payload and the check value
func wireAmount(amount decimal.Decimal, currency string) string {
	exp, ok := currencyExponents[currency]
	if !ok {
		exp = 2
	}
	return amount.StringFixed(exp)
}

// Config holds processor credentials and environment selection
type Config struct {
	Environment   string // "sandbox" or "production"
	MerchantKey   string
	MerchantToken string // secret, used for check values and webhook signatures
	Timeout       time.Duration
	MaxRetries    int
}

// HTTPGateway implements Gateway against the processor's JSON API
type HTTPGateway struct {
	config  Config
	baseURL string
	client  *retryablehttp.Client
	logger  *logrus.Logger
}

// NewHTTPGateway creates a gateway client. Transient network and 5xx
// failures are retried with backoff up to MaxRetries; every call carries a
// bounded timeout.
func NewHTTPGateway(cfg Config, logger *logrus.Logger) *HTTPGateway {
	baseURL, ok := environmentURLs[cfg.Environment]
	if !ok {
		baseURL = environmentURLs["sandbox"]
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	return &HTTPGateway{
		config:  cfg,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

// IsConfigured returns true if merchant credentials are present
func (g *HTTPGateway) IsConfigured() bool {
	return g.config.MerchantKey != "" && g.config.MerchantToken != ""
}

// checkValue computes the request signature the processor verifies.
// Step 1: hash1 = SHA512(merchantToken) uppercase hex
// Step 2: SHA512("merchantKey|reference|amount|currency|hash1") uppercase hex
func (g *HTTPGateway) checkValue(reference, amount, currency string) string {
	hash1 := sha512.Sum512([]byte(g.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		g.config.MerchantKey, reference, amount, currency, hash1Hex)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

type chargePayload struct {
	MerchantKey   string `json:"merchant_key"`
	InvoiceID     string `json:"invoice_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	Description   string `json:"description,omitempty"`
	CheckValue    string `json:"check_value"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// CreateCharge creates a charge for a booking. The invoice id doubles as
// the processor-side idempotency key: retrying with the same id returns the
// original charge instead of collecting twice.
func (g *HTTPGateway) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	amount := wireAmount(req.Amount, req.Currency)
	payload := &chargePayload{
		MerchantKey:   g.config.MerchantKey,
		InvoiceID:     req.InvoiceID,
		Amount:        amount,
		Currency:      req.Currency,
		CustomerName:  req.Customer.Name,
		CustomerEmail: req.Customer.Email,
		CustomerPhone: req.Customer.Phone,
		Description:   req.Description,
		CheckValue:    g.checkValue(req.InvoiceID, amount, req.Currency),
	}

	g.logger.WithFields(logrus.Fields{
		"invoice_id": req.InvoiceID,
		"amount":     amount,
		"currency":   req.Currency,
	}).Info("Creating gateway charge")

	var resp apiResponse
	if err := g.post(ctx, "/charges", payload, &resp); err != nil {
		return nil, err
	}

	if resp.Status != StatusSucceeded && resp.Status != StatusPending {
		return &ChargeResult{ID: resp.ID, Status: resp.Status},
			fmt.Errorf("charge declined: %s", resp.Message)
	}

	return &ChargeResult{ID: resp.ID, Status: resp.Status}, nil
}

type refundPayload struct {
	MerchantKey string `json:"merchant_key"`
	ChargeID    string `json:"charge_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CheckValue  string `json:"check_value"`
}

// Refund returns part or all of a captured charge
func (g *HTTPGateway) Refund(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (*ChargeResult, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	amountStr := wireAmount(amount, currency)
	payload := &refundPayload{
		MerchantKey: g.config.MerchantKey,
		ChargeID:    chargeID,
		Amount:      amountStr,
		Currency:    currency,
		CheckValue:  g.checkValue(chargeID, amountStr, currency),
	}

	g.logger.WithFields(logrus.Fields{
		"charge_id": chargeID,
		"amount":    amountStr,
	}).Info("Creating gateway refund")

	var resp apiResponse
	if err := g.post(ctx, "/refunds", payload, &resp); err != nil {
		return nil, err
	}

	if resp.Status != StatusSucceeded && resp.Status != StatusPending {
		return &ChargeResult{ID: resp.ID, Status: resp.Status},
			fmt.Errorf("refund rejected: %s", resp.Message)
	}

	return &ChargeResult{ID: resp.ID, Status: resp.Status}, nil
}

type payoutPayload struct {
	MerchantKey string `json:"merchant_key"`
	Reference   string `json:"reference"`
	Account     string `json:"account"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CheckValue  string `json:"check_value"`
}

// CreatePayout transfers a settled batch to the consultant's account
func (g *HTTPGateway) CreatePayout(ctx context.Context, req *PayoutRequest) (*PayoutResult, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	amount := wireAmount(req.Amount, req.Currency)
	payload := &payoutPayload{
		MerchantKey: g.config.MerchantKey,
		Reference:   req.BatchReference,
		Account:     req.ConsultantAccount,
		Amount:      amount,
		Currency:    req.Currency,
		CheckValue:  g.checkValue(req.BatchReference, amount, req.Currency),
	}

	g.logger.WithFields(logrus.Fields{
		"reference": req.BatchReference,
		"amount":    amount,
		"currency":  req.Currency,
	}).Info("Creating gateway payout")

	var resp apiResponse
	if err := g.post(ctx, "/payouts", payload, &resp); err != nil {
		return nil, err
	}

	if resp.Status != StatusSucceeded && resp.Status != StatusPending {
		return &PayoutResult{ID: resp.ID, Status: resp.Status},
			fmt.Errorf("payout rejected: %s", resp.Message)
	}

	return &PayoutResult{ID: resp.ID, Status: resp.Status}, nil
}

// VerifyWebhook checks the HMAC-SHA512 signature over the raw body and
// parses the event. An invalid signature rejects the delivery outright.
func (g *HTTPGateway) VerifyWebhook(body []byte, signature string) (*WebhookEvent, error) {
	mac := hmac.New(sha512.New, []byte(g.config.MerchantToken))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return nil, fmt.Errorf("webhook signature mismatch")
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	if event.EventID == "" || event.ChargeReference == "" {
		return nil, fmt.Errorf("webhook missing required fields")
	}

	return &event, nil
}

// SignWebhook computes the signature for a payload. Exported for tests and
// for the sandbox replay tool.
func (g *HTTPGateway) SignWebhook(body []byte) string {
	mac := hmac.New(sha512.New, []byte(g.config.MerchantToken))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload, out interface{}) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse gateway response: %w", err)
	}

	return nil
}

// SetBaseURL overrides the API base URL. Test hook.
func (g *HTTPGateway) SetBaseURL(url string) {
	g.baseURL = url
}
