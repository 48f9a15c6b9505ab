package classification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CompletionClient внешний текстовый классификатор.
// Вынесен в интерфейс для подмены в тестах
type CompletionClient interface {
	GetCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AIClient клиент OpenAI-совместимого chat completions API
type AIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// AIClientConfig конфигурация AI клиента
type AIClientConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewAIClient создает новый AI клиент
func NewAIClient(config AIClientConfig) *AIClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.arliai.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &AIClient{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// chatRequest тело запроса chat completions
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse тело ответа chat completions
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// GetCompletion выполняет запрос к chat completions API.
// Сетевые ошибки, таймауты, 429 и 5xx оборачиваются в TransientError,
// остальные ошибки API — в PermanentError
func (c *AIClient) GetCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &PermanentError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &PermanentError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Таймауты и сетевые сбои считаем временными
		return "", &TransientError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Продолжаем разбор ниже
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &TransientError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body))}
	default:
		return "", &PermanentError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body))}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", &TransientError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if chatResp.Error != nil {
		return "", &PermanentError{Err: fmt.Errorf("API error: %s", chatResp.Error.Message)}
	}
	if len(chatResp.Choices) == 0 {
		return "", &TransientError{Err: errors.New("empty choices in response")}
	}

	return chatResp.Choices[0].Message.Content, nil
}

// truncateBody обрезает тело ответа для сообщения об ошибке
func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
