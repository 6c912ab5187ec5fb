// Package collector provides the client demo services use to emit trace
// events to the archscope collector with a propagated correlation id.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one structured trace event to emit.
type Event struct {
	CorrelationID string         `json:"correlation_id"`
	Service       string         `json:"service"`
	EventType     string         `json:"event_type,omitempty"`
	Payload       map[string]any `json:"-"`
}

// Client posts events to the collector's HEC-compatible endpoint.
type Client struct {
	baseURL    string
	sourcetype string
	httpClient *http.Client
}

// New constructs a client targeting the given collector base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sourcetype: "archscope",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewCorrelationID returns a fresh opaque correlation id for the start of a
// request flow. Services receiving a request propagate the incoming id
// instead of generating a new one.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Emit posts one event. Payload keys are flattened next to the required
// fields inside the HEC envelope.
func (c *Client) Emit(ctx context.Context, event Event) error {
	if c.baseURL == "" {
		return fmt.Errorf("collector base URL not configured")
	}
	if event.CorrelationID == "" || event.Service == "" {
		return fmt.Errorf("correlation_id and service are required")
	}

	fields := make(map[string]any, len(event.Payload)+3)
	for key, value := range event.Payload {
		fields[key] = value
	}
	fields["correlation_id"] = event.CorrelationID
	fields["service"] = event.Service
	if event.EventType != "" {
		fields["event_type"] = event.EventType
	}

	envelope := map[string]any{
		"event":      fields,
		"sourcetype": c.sourcetype,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/services/collector/event", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("emit event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector returned %s", resp.Status)
	}
	return nil
}
