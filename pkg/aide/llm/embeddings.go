package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

// EmbeddingDimensions is the fixed vector size for all stored embeddings.
// Must match the vector column width in the memory_entries table.
const EmbeddingDimensions = 1536

// embeddingRequest is the OpenAI-compatible embeddings request.
type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// embeddingResponse is the OpenAI-compatible embeddings response.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed converts text into a fixed-dimension vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.embeddingModel,
		Input:      text,
		Dimensions: EmbeddingDimensions,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Upstream("embedding request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Upstream("reading embedding response", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("embeddings API error",
			"model", c.embeddingModel,
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 500),
		)
		return nil, errs.Upstream(
			fmt.Sprintf("embeddings API returned %d", resp.StatusCode),
			fmt.Errorf("%s", truncate(string(respBody), 200)),
		)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errs.Upstream("parsing embedding response", err)
	}
	if parsed.Error != nil {
		return nil, errs.Upstream("embeddings API error", fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Data) == 0 {
		return nil, errs.Upstream("embeddings API returned no data", nil)
	}

	vec := parsed.Data[0].Embedding
	if len(vec) != EmbeddingDimensions {
		return nil, errs.Upstream(
			fmt.Sprintf("embedding has %d dimensions, expected %d", len(vec), EmbeddingDimensions), nil)
	}

	c.logger.Debug("embedding done",
		"model", c.embeddingModel,
		"duration_ms", time.Since(start).Milliseconds(),
		"text_len", len(text),
	)

	return vec, nil
}
