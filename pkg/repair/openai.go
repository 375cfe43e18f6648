package repair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenAIRepairer asks a chat-completion model to repair malformed JSON
// against a target schema, mirroring the teacher's raw net/http OpenAI
// client rather than pulling in an SDK.
type OpenAIRepairer struct {
	apiKey string
	model  string
	client *http.Client
}

// NewOpenAIRepairer builds a Repairer backed by the OpenAI chat
// completions endpoint.
func NewOpenAIRepairer(apiKey, model string) *OpenAIRepairer {
	return &OpenAIRepairer{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Seed        int64         `json:"seed"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (r *OpenAIRepairer) Repair(ctx context.Context, malformed string, targetSchema string) (Result, error) {
	prompt := fmt.Sprintf(
		"Repair the following JSON so it validates against this JSON Schema. "+
			"Preserve every value exactly; fix only structural/syntax problems. "+
			"Return only the repaired JSON object, nothing else.\n\nSchema:\n%s\n\nInput:\n%s",
		targetSchema, malformed,
	)

	body := chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You repair malformed JSON without changing its meaning."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		Seed:        1,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("repair: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("repair: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("repair: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("repair: provider returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("repair: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("repair: empty choices in response")
	}

	raw := parsed.Choices[0].Message.Content
	out, err := ParseRepaired(raw)
	if err != nil {
		return Result{}, err
	}

	tokens := parsed.Usage.TotalTokens
	if tokens == 0 {
		tokens = EstimateTokens(malformed) + EstimateTokens(raw)
	}

	return Result{Repaired: out, RawText: raw, TokensUsed: tokens}, nil
}
