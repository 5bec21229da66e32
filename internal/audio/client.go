// Package audio is the client for the external speech-synthesis service.
// Synthesis is strictly best-effort from the pipeline's point of view:
// the response builder treats any failure here as "no audio".
package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/velosa/atende/internal/turn"
)

// Client speaks the synthesis service's HTTP API and implements the
// turn.Synthesizer port.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a synthesis client for the given endpoint.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type wireRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversationId"`
	ReferenceID    string `json:"referenceId,omitempty"`
}

type wireResponse struct {
	AudioURL string `json:"audioUrl"`
}

// Create synthesizes text and returns the audio URL, or "" when the
// service produced none.
func (c *Client) Create(ctx context.Context, req turn.SynthesisRequest) (string, error) {
	jsonData, err := json.Marshal(wireRequest{
		Text:           req.Text,
		ConversationID: req.ConversationID,
		ReferenceID:    req.ReferenceID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/synthesize", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var wireResp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return wireResp.AudioURL, nil
}
