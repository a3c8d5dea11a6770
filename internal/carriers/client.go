package carriers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coverline/server/internal/breaker"
)

const maxQuoteResponseBytes = 1 << 20

// QuoteRequest is the payload sent to a carrier's quote endpoint.
type QuoteRequest struct {
	InsuranceType string  `json:"insuranceType"`
	State         string  `json:"state"`
	ZipCode       string  `json:"zipCode,omitempty"`
	ValueEstimate float64 `json:"valueEstimate,omitempty"`
	LeadRef       string  `json:"leadRef"`
}

// Quote is one carrier's answer.
type Quote struct {
	Carrier     string    `json:"carrier"`
	QuoteID     string    `json:"quoteId"`
	Premium     float64   `json:"premium"`
	Currency    string    `json:"currency"`
	ValidUntil  time.Time `json:"validUntil"`
	RetrievedAt time.Time `json:"retrievedAt"`
}

// Client calls carrier quote APIs through the breaker registry. One
// breaker per carrier slug, so a flapping carrier cannot poison others.
type Client struct {
	http     *http.Client
	breakers *breaker.Registry
	timeout  time.Duration
}

func NewClient(httpClient *http.Client, breakers *breaker.Registry, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{http: httpClient, breakers: breakers, timeout: timeout}
}

// RequestQuote posts the quote request to the carrier under its breaker.
func (c *Client) RequestQuote(ctx context.Context, carrier *Carrier, req QuoteRequest) (*Quote, error) {
	var quote *Quote
	err := c.breakers.Get(carrier.Slug).Execute(ctx, func(ctx context.Context) error {
		var err error
		quote, err = c.post(ctx, carrier, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (c *Client) post(ctx context.Context, carrier *Carrier, req QuoteRequest) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal quote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, carrier.BaseURL+"/quotes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if carrier.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+carrier.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("carrier %s: %w", carrier.Slug, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxQuoteResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("carrier %s: read response: %w", carrier.Slug, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("carrier %s: unexpected status %d", carrier.Slug, resp.StatusCode)
	}

	var quote Quote
	if err := json.Unmarshal(payload, &quote); err != nil {
		return nil, fmt.Errorf("carrier %s: decode quote: %w", carrier.Slug, err)
	}
	quote.Carrier = carrier.Slug
	quote.RetrievedAt = time.Now().UTC()
	return &quote, nil
}
