/**
 * @description
 * This package provides a client for interacting with the Stripe API.
 * It encapsulates the logic for making authenticated HTTP requests to Stripe's
 * Checkout Sessions endpoint.
 *
 * Key features:
 * - Manages the API base URL and secret key.
 * - Builds the form-encoded session creation request Stripe expects.
 * - Handles JSON deserialization and error handling for API calls.
 *
 * @dependencies
 * - context, fmt, io, net/http, net/url, strings, time: Standard Go libraries.
 * - encoding/json: For decoding Stripe responses.
 * - The service's internal domain package for the checkout session model.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jaypozo/grant-pathway/internal/domain"
)

// Client is a client for the Stripe API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a new Stripe API client.
func NewClient(baseURL, secretKey string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateCheckoutSessionParams holds the inputs for a hosted checkout session.
type CreateCheckoutSessionParams struct {
	PriceID       string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	// Metadata is echoed back verbatim on the checkout.session.completed webhook
	// and is the only channel linking the payment to a business record.
	Metadata map[string]string
}

// CreateCheckoutSession creates a payment-mode checkout session and returns the
// session, whose URL the visitor is redirected to.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*domain.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("customer_email", params.CustomerEmail)
	form.Set("billing_address_collection", "required")
	form.Set("payment_method_types[0]", "card")
	for key, value := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	endpoint := fmt.Sprintf("%s/v1/checkout/sessions", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("stripe returned status %d: %s", resp.StatusCode, errorMessage(body))
	}

	var session domain.CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to decode stripe response: %w", err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("stripe session %s has no redirect URL", session.ID)
	}
	return &session, nil
}

// errorMessage pulls the human-readable message out of a Stripe error body,
// falling back to a truncated raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	raw := string(body)
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return strconv.Quote(raw)
}
