// Package generation wraps the language-model completion API. The rest of the
// system consumes it as an opaque "history in, content plus usage out" call.
package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Turn is one entry of the ordered conversation history sent to the model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result carries the generated reply and its usage accounting.
type Result struct {
	Content    string
	TokensUsed int
	Cost       float64
}

// Provider produces an assistant reply for an ordered message history.
type Provider interface {
	Generate(ctx context.Context, history []Turn) (*Result, error)
	// GenerateStream invokes onToken for each content delta and returns the
	// assembled result once the stream ends.
	GenerateStream(ctx context.Context, history []Turn, onToken func(token string)) (*Result, error)
}

const systemPrompt = `You are ClarityAI, an assistant that helps users author and refine prompts for language models.

Guidelines:
- Ask clarifying questions when the user's goal is ambiguous
- Suggest concrete prompt structure: role, context, task, constraints, output format
- Keep answers concise and actionable`

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiURL       string
	apiKey       string
	model        string
	costPer1K    float64
	client       *http.Client
	streamClient *http.Client // no timeout for SSE
}

func NewClient(apiURL, apiKey, model string, costPer1K float64) *Client {
	return &Client{
		apiURL:    apiURL,
		apiKey:    apiKey,
		model:     model,
		costPer1K: costPer1K,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		streamClient: &http.Client{
			Timeout: 0,
		},
	}
}

func (c *Client) buildRequest(ctx context.Context, history []Turn, stream bool) (*http.Request, error) {
	msgs := make([]Turn, 0, len(history)+1)
	msgs = append(msgs, Turn{Role: "system", Content: systemPrompt})
	msgs = append(msgs, history...)

	payload := map[string]interface{}{
		"model":    c.model,
		"messages": msgs,
		"stream":   stream,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (c *Client) cost(totalTokens int) float64 {
	return float64(totalTokens) / 1000 * c.costPer1K
}

func (c *Client) Generate(ctx context.Context, history []Turn) (*Result, error) {
	req, err := c.buildRequest(ctx, history, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("generation API call failed", "error", err)
		return nil, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read generation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation API status %d", resp.StatusCode)
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("generation API returned no choices")
	}

	return &Result{
		Content:    apiResp.Choices[0].Message.Content,
		TokensUsed: apiResp.Usage.TotalTokens,
		Cost:       c.cost(apiResp.Usage.TotalTokens),
	}, nil
}

func (c *Client) GenerateStream(ctx context.Context, history []Turn, onToken func(token string)) (*Result, error) {
	req, err := c.buildRequest(ctx, history, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		slog.Error("generation streaming call failed", "error", err)
		return nil, fmt.Errorf("generation stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation API status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder
	totalTokens := 0

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			totalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) > 0 {
			if token := chunk.Choices[0].Delta.Content; token != "" {
				full.WriteString(token)
				if onToken != nil {
					onToken(token)
				}
			}
			if chunk.Choices[0].FinishReason != nil {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read generation stream: %w", err)
	}
	if full.Len() == 0 {
		return nil, fmt.Errorf("generation stream produced no content")
	}

	return &Result{
		Content:    full.String(),
		TokensUsed: totalTokens,
		Cost:       c.cost(totalTokens),
	}, nil
}
