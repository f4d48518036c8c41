package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/papercomputeco/lumos/pkg/ollama"
	"github.com/papercomputeco/lumos/pkg/provider"
)

// maxErrorBody caps how much of a rejected upstream body is kept.
const maxErrorBody = 64 * 1024

// UpstreamError is returned when the upstream answers with a non-2xx status.
// No stream is constructed in that case.
type UpstreamError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %s: %s", e.Status, e.Body)
}

// newUpstreamRequest builds the body of a streaming chat completion.
func newUpstreamRequest(entry provider.Entry, messages []ollama.Message, options map[string]any) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:    entry.UpstreamModel(),
		Messages: msgs,
		Stream:   true,
	}
	applyOptions(&req, options)

	return req
}

// applyOptions maps the Ollama sampling options that have an OpenAI
// equivalent. Unknown or mistyped options are ignored.
func applyOptions(req *openai.ChatCompletionRequest, options map[string]any) {
	if f, ok := options["temperature"].(float64); ok {
		req.Temperature = float32(f)
	}
	if f, ok := options["top_p"].(float64); ok {
		req.TopP = float32(f)
	}
	if f, ok := options["presence_penalty"].(float64); ok {
		req.PresencePenalty = float32(f)
	}
	if f, ok := options["frequency_penalty"].(float64); ok {
		req.FrequencyPenalty = float32(f)
	}
	if f, ok := options["num_predict"].(float64); ok && f > 0 {
		req.MaxTokens = int(f)
	}
	if f, ok := options["seed"].(float64); ok {
		seed := int(f)
		req.Seed = &seed
	}
	if stop, ok := options["stop"].([]any); ok {
		for _, s := range stop {
			if str, ok := s.(string); ok {
				req.Stop = append(req.Stop, str)
			}
		}
	}
}

// dispatch sends the chat completion upstream. A non-2xx answer is drained,
// closed and returned as *UpstreamError; on success the caller owns the body.
func (p *Proxy) dispatch(ctx context.Context, c *fiber.Ctx, entry provider.Entry, in inbound, requestID string) (*http.Response, error) {
	body, err := json.Marshal(newUpstreamRequest(entry, in.messages, in.options))
	if err != nil {
		return nil, fmt.Errorf("encoding upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}

	p.headerHandler.SetUpstreamRequestHeaders(c, req, entry.APIKey, requestID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending upstream request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(respBody)),
		}
	}

	return resp, nil
}
