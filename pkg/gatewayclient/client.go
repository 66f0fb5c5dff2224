/**
 * @description
 * This package provides a client for the payment gateway's orders and payments API.
 * It creates remote orders, fetches captured payment details, and verifies the
 * callback signature the gateway hands back to the checkout page.
 *
 * @notes
 * - Orders are created in minor currency units (paise/cents).
 * - The callback signature is hex(HMAC_SHA256(keySecret, orderId + "|" + paymentId)).
 *   This exact concatenation and encoding is a wire-compatibility requirement.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrSignatureMismatch = errors.New("payment signature mismatch")

// ConfigError reports missing gateway credentials with fields an operator can act on.
type ConfigError struct {
	KeyIDSet     bool
	KeySecretSet bool
}

func (e *ConfigError) Error() string {
	missing := make([]string, 0, 2)
	if !e.KeyIDSet {
		missing = append(missing, "GATEWAY_KEY_ID")
	}
	if !e.KeySecretSet {
		missing = append(missing, "GATEWAY_KEY_SECRET")
	}
	return fmt.Sprintf("payment gateway is not configured: missing %s", strings.Join(missing, ", "))
}

// APIError represents a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("gateway api error: status=%d code=%s description=%s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("gateway api error: status=%d", e.StatusCode)
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	HTTPClient *http.Client
}

// NewClient creates a new gateway client.
func NewClient(baseURL, keyID, keySecret string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		KeyID:     strings.TrimSpace(keyID),
		KeySecret: strings.TrimSpace(keySecret),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PublicKeyID is the key id the checkout page needs to open the gateway widget.
func (c *Client) PublicKeyID() string {
	return c.KeyID
}

func (c *Client) checkConfigured() error {
	if c.KeyID == "" || c.KeySecret == "" {
		return &ConfigError{KeyIDSet: c.KeyID != "", KeySecretSet: c.KeySecret != ""}
	}
	return nil
}

// CreateOrderRequest is the payload for creating a remote order.
type CreateOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the gateway's view of an order.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment is the subset of the gateway's payment resource the service reads.
type Payment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Email    string `json:"email"`
	Captured bool   `json:"captured"`
}

// CreateOrder creates a remote order for amountMinor units of currency.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	payload := CreateOrderRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", payload, &order); err != nil {
		return nil, err
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, fmt.Errorf("gateway returned an order without an id")
	}
	return &order, nil
}

// FetchPayment retrieves a payment by id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// VerifyPaymentSignature checks a checkout callback signature in constant time.
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) error {
	if c.KeySecret == "" {
		return &ConfigError{KeyIDSet: c.KeyID != "", KeySecretSet: false}
	}
	expected := ComputeSignature(c.KeySecret, orderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrSignatureMismatch
	}
	return nil
}

// ComputeSignature returns hex(HMAC_SHA256(secret, orderID|paymentID)).
func ComputeSignature(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create gateway request: %w", err)
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Code = errResp.Error.Code
			apiErr.Description = errResp.Error.Description
		}
		log.Printf("level=warn component=gateway_client msg=\"gateway request failed\" method=%s path=%s status=%d code=%s", method, path, resp.StatusCode, apiErr.Code)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
