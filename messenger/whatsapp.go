package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WhatsAppGateway клиент HTTP шлюза WhatsApp (локальный мост с активной
// сессией). Шлюз принимает номер в E.164 и текст сообщения
type WhatsAppGateway struct {
	baseURL    string
	httpClient *http.Client
}

// WhatsAppGatewayConfig конфигурация клиента шлюза
type WhatsAppGatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewWhatsAppGateway создает клиент шлюза WhatsApp
func NewWhatsAppGateway(config WhatsAppGatewayConfig) *WhatsAppGateway {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:3000"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &WhatsAppGateway{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// sendRequest тело запроса на отправку
type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// sendResponse тело ответа шлюза
type sendResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Коды отказа шлюза, при которых повтор бессмысленен
var permanentGatewayCodes = map[string]bool{
	"not_registered": true, // Номер не зарегистрирован в WhatsApp
	"blocked":        true,
	"invalid_phone":  true,
}

// Send отправляет сообщение через шлюз.
// Сетевые сбои, таймауты, 429 и 5xx оборачиваются в TransientError,
// отказы шлюза по самому номеру — в PermanentError
func (g *WhatsAppGateway) Send(ctx context.Context, phoneE164, message string) error {
	payload, err := json.Marshal(sendRequest{Phone: phoneE164, Message: message})
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	url := g.baseURL + "/api/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Продолжаем разбор ниже
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body))}
	default:
		return &PermanentError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body))}
	}

	var sendResp sendResponse
	if err := json.Unmarshal(body, &sendResp); err != nil {
		return &TransientError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if !sendResp.Success {
		gatewayErr := fmt.Errorf("gateway refused: %s %s", sendResp.Code, sendResp.Error)
		if permanentGatewayCodes[sendResp.Code] {
			return &PermanentError{Err: gatewayErr}
		}
		return &TransientError{Err: gatewayErr}
	}
	return nil
}

// truncateBody обрезает тело ответа для сообщения об ошибке
func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
