/**
 * @description
 * This package provides a client for sending transactional email through the
 * Mailgun messages API. Emails are template based: the caller supplies a
 * recipient, subject, template name and a flat map of template variables.
 *
 * @dependencies
 * - context, encoding/json, fmt, io, net/http, net/url, strings, time: Standard Go libraries.
 */
package mailgunclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the Mailgun API, scoped to one sending domain.
type Client struct {
	baseURL    string
	domain     string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewClient creates a new Mailgun client.
func NewClient(baseURL, domain, apiKey, from string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.mailgun.net"
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		domain:  domain,
		apiKey:  apiKey,
		from:    from,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SendTemplate sends one templated message. Variables are passed to Mailgun as
// the X-Mailgun-Variables JSON blob, matching how templates reference them.
func (c *Client) SendTemplate(ctx context.Context, recipient, subject, template string, variables map[string]string) error {
	if variables == nil {
		variables = map[string]string{}
	}
	blob, err := json.Marshal(variables)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("from", c.from)
	form.Set("to", recipient)
	form.Set("subject", subject)
	form.Set("template", template)
	form.Set("h:X-Mailgun-Variables", string(blob))

	endpoint := fmt.Sprintf("%s/v3/%s/messages", c.baseURL, c.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth("api", c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("mailgun returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
