package epr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// UnavailableError indicates the adapter could not be reached at all, as
// opposed to reached but unhappy. Handlers map it to 503.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return "epr: adapter unreachable: " + e.Err.Error() }
func (e *UnavailableError) Unwrap() error { return e.Err }

// Client posts HL7 messages to the EPR service adapter.
type Client struct {
	baseURL    string
	tokens     *TokenSource
	httpClient *http.Client
}

// NewClient builds an adapter client. The 15 second timeout matches the
// adapter's own upstream timeout towards the integration engine.
func NewClient(baseURL string, tokens *TokenSource) *Client {
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type hl7MessageRequest struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

type hl7MessageResponse struct {
	Body string `json:"body"`
}

// PostHL7Message sends an HL7 message to the adapter and returns the
// acknowledgement the integration engine produced, decoded to plain
// text. requestID is propagated for cross-service tracing; if empty a
// fresh id is generated.
func (c *Client) PostHL7Message(ctx context.Context, content, requestID string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	payload, err := json.Marshal(hl7MessageRequest{
		Type: "hl7v2",
		Body: base64.StdEncoding.EncodeToString([]byte(content)),
	})
	if err != nil {
		return "", fmt.Errorf("epr: marshal request: %w", err)
	}

	url := c.baseURL + "/epr/v1/hl7_message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("epr: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("epr: adapter returned HTTP %d", resp.StatusCode)
	}

	var ack hl7MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("epr: decode response: %w", err)
	}
	if ack.Body == "" {
		return "", fmt.Errorf("epr: ACK response expected from EPR, none received")
	}

	decoded, err := base64.StdEncoding.DecodeString(ack.Body)
	if err != nil {
		return "", fmt.Errorf("epr: decode ACK body: %w", err)
	}
	log.Debug().Str("request_id", requestID).Msg("received adapter ACK")
	return string(decoded), nil
}
