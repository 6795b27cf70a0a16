package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const entriesPath = "/v1/entries"

// HTTPClient appends entries to a remote ledger gateway.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type appendRequest struct {
	ConsentID   string         `json:"consent_id"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
	PayloadHash string         `json:"payload_hash"`
}

type appendResponse struct {
	EntryID string `json:"entry_id"`
}

// NewHTTPClient builds a client. Timeouts are applied per call through ctx.
func NewHTTPClient(baseURL, apiKey string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Append posts the entry. Network errors, 429 and 5xx are transient; other 4xx are rejections.
func (c *HTTPClient) Append(ctx context.Context, consentID, eventType string, payload map[string]any) (string, error) {
	payloadHash, err := PayloadHash(payload)
	if err != nil {
		return "", &RejectedError{Reason: err.Error()}
	}
	body, err := json.Marshal(appendRequest{
		ConsentID:   consentID,
		EventType:   eventType,
		Payload:     payload,
		PayloadHash: payloadHash,
	})
	if err != nil {
		return "", &RejectedError{Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+entriesPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey(consentID, eventType, payloadHash))
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("ledger_http_status_%d", resp.StatusCode)
	default:
		return "", &RejectedError{Status: resp.StatusCode, Reason: strings.TrimSpace(string(respBody))}
	}

	var out appendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode ledger response: %w", err)
	}
	if out.EntryID == "" {
		return "", fmt.Errorf("ledger response missing entry_id")
	}
	return out.EntryID, nil
}

func idempotencyKey(consentID, eventType, payloadHash string) string {
	sum := sha256.Sum256([]byte(consentID + "\n" + eventType + "\n" + payloadHash))
	return hex.EncodeToString(sum[:])
}
