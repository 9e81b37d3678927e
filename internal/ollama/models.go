package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// ModelInfo represents information about an Ollama model
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// ListModels lists the models installed on the Ollama server
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// chatModelPriority lists instruction-tuned families in order of preference.
var chatModelPriority = []string{
	"llama3.2",
	"llama3.1",
	"qwen2.5",
	"mistral",
	"llama3",
	"gemma",
}

// ResolveModel returns preferred if it is installed, otherwise the highest
// priority installed chat model, otherwise the largest one. Embedding models
// are never chosen.
func (c *Client) ResolveModel(ctx context.Context, preferred string) (string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return "", err
	}
	return pickModel(models, preferred)
}

func pickModel(models []ModelInfo, preferred string) (string, error) {
	candidates := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		if m.Name == preferred && preferred != "" {
			return m.Name, nil
		}
		if !strings.Contains(strings.ToLower(m.Name), "embed") {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no generation models available")
	}

	for _, family := range chatModelPriority {
		for _, m := range candidates {
			if strings.Contains(strings.ToLower(m.Name), family) {
				return m.Name, nil
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Size > candidates[j].Size
	})
	return candidates[0].Name, nil
}
