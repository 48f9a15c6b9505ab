package messenger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSendSuccess проверяет успешную отправку через шлюз
func TestSendSuccess(t *testing.T) {
	var gotPhone, gotMessage string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/send", r.URL.Path)
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPhone = req.Phone
		gotMessage = req.Message
		json.NewEncoder(w).Encode(sendResponse{Success: true})
	}))
	defer server.Close()

	g := NewWhatsAppGateway(WhatsAppGatewayConfig{BaseURL: server.URL})
	err := g.Send(context.Background(), "+77011234567", "Привет!")
	require.NoError(t, err)
	assert.Equal(t, "+77011234567", gotPhone)
	assert.Equal(t, "Привет!", gotMessage)
}

// TestSendGatewayOverloaded проверяет, что 429 и 5xx считаются временными
func TestSendGatewayOverloaded(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		g := NewWhatsAppGateway(WhatsAppGatewayConfig{BaseURL: server.URL})
		err := g.Send(context.Background(), "+77011234567", "Привет!")
		assert.True(t, IsTransient(err), "status %d must be transient", status)
		assert.False(t, IsPermanent(err))
		server.Close()
	}
}

// TestSendNotRegistered проверяет постоянный отказ по номеру
func TestSendNotRegistered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sendResponse{Success: false, Code: "not_registered", Error: "phone is not on whatsapp"})
	}))
	defer server.Close()

	g := NewWhatsAppGateway(WhatsAppGatewayConfig{BaseURL: server.URL})
	err := g.Send(context.Background(), "+77011234567", "Привет!")
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "not_registered")
}

// TestSendSessionDropped проверяет, что неизвестный отказ шлюза считается временным
func TestSendSessionDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sendResponse{Success: false, Code: "session_lost", Error: "qr scan required"})
	}))
	defer server.Close()

	g := NewWhatsAppGateway(WhatsAppGatewayConfig{BaseURL: server.URL})
	err := g.Send(context.Background(), "+77011234567", "Привет!")
	assert.True(t, IsTransient(err))
}

// TestSendNetworkFailure проверяет, что сетевой сбой считается временным
func TestSendNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Шлюз недоступен

	g := NewWhatsAppGateway(WhatsAppGatewayConfig{BaseURL: server.URL})
	err := g.Send(context.Background(), "+77011234567", "Привет!")
	assert.True(t, IsTransient(err))
}

// TestSendBadRequest проверяет, что 4xx кроме 429 считается постоянным
func TestSendBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	g := NewWhatsAppGateway(WhatsAppGatewayConfig{BaseURL: server.URL})
	err := g.Send(context.Background(), "bad-phone", "Привет!")
	assert.True(t, IsPermanent(err))
}
