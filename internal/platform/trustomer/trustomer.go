// Package trustomer fetches and caches per-customer configuration from
// the trustomer API. The config drives outbound message generation: HL7
// header values, timestamp formats and oxygen mask codes all vary by
// customer.
package trustomer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ehr/hl7-connector/internal/platform/hl7v2"
)

// Config is the subset of the trustomer document the connector uses.
type Config struct {
	SendConfig SendConfig `json:"send_config"`
	HL7Config  HL7Config  `json:"hl7_config"`
}

// SendConfig controls outbound observation reporting.
type SendConfig struct {
	GenerateORUMessages bool               `json:"generate_oru_messages"`
	OxygenMasks         []hl7v2.OxygenMask `json:"oxygen_masks"`
}

// HL7Config carries the customer's outgoing HL7 header values.
type HL7Config struct {
	OutgoingReceivingApplication string `json:"outgoing_receiving_application"`
	OutgoingReceivingFacility    string `json:"outgoing_receiving_facility"`
	OutgoingSendingApplication   string `json:"outgoing_sending_application"`
	OutgoingSendingFacility      string `json:"outgoing_sending_facility"`
	OutgoingProcessingID         string `json:"outgoing_processing_id"`
	OutgoingTimestampFormat      string `json:"outgoing_timestamp_format"`
}

// Client fetches trustomer config over HTTP and caches it for a TTL.
// A stale copy is served if a refresh fails, so a trustomer API outage
// does not take down message processing.
type Client struct {
	baseURL      string
	customerCode string
	apiKey       string
	ttl          time.Duration
	httpClient   *http.Client

	mu        sync.Mutex
	cached    *Config
	fetchedAt time.Time
}

// New creates a trustomer client. ttl bounds how long a fetched config
// is reused before re-fetching.
func New(baseURL, customerCode, apiKey string, ttl time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		customerCode: customerCode,
		apiKey:       apiKey,
		ttl:          ttl,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Get returns the trustomer config, from cache when fresh.
func (c *Client) Get(ctx context.Context) (*Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.cached, nil
	}

	cfg, err := c.fetch(ctx)
	if err != nil {
		if c.cached != nil {
			log.Warn().Err(err).Msg("trustomer config refresh failed, serving stale copy")
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = cfg
	c.fetchedAt = time.Now()
	return cfg, nil
}

func (c *Client) fetch(ctx context.Context) (*Config, error) {
	url := fmt.Sprintf("%s/dhos/v1/trustomer/%s", c.baseURL, c.customerCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("trustomer: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Trustomer", c.customerCode)
	req.Header.Set("X-Product", "dhos")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trustomer: fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trustomer: fetch config: unexpected status %d", resp.StatusCode)
	}

	var cfg Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("trustomer: decode config: %w", err)
	}
	log.Debug().Str("customer", c.customerCode).Msg("fetched trustomer config")
	return &cfg, nil
}
