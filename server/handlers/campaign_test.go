package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/classification"
	"outreach/composer"
	"outreach/internal/config"
	"outreach/ledger"
)

// fakeCompletionClient всегда отвечает фиксированной классификацией
type fakeCompletionClient struct {
	answer string
}

func (f *fakeCompletionClient) GetCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.answer, nil
}

// fakeChannel успешно доставляет все сообщения
type fakeChannel struct{}

func (f *fakeChannel) Send(ctx context.Context, phoneE164, message string) error {
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                       "9999",
		LedgerDatabasePath:         filepath.Join(t.TempDir(), "campaign.db"),
		ConfidenceThreshold:        0.6,
		ClassifyWorkers:            2,
		NameSimilarityThreshold:    0.82,
		AddressSimilarityThreshold: 0.75,
		DefaultPhoneRegion:         "KZ",
		SendRatePerMinute:          100000,
		SendMaxRetries:             3,
		SendBackoffBase:            time.Millisecond,
		SendBackoffCap:             5 * time.Millisecond,
		SenderWorkers:              1,
	}
}

// newTestEngine собирает роутер кампании с подмененными внешними клиентами
func newTestEngine(t *testing.T) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	cfg := testConfig(t)

	l, err := ledger.Open(cfg.LedgerDatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	classifier := classification.NewClassifier(
		&fakeCompletionClient{answer: `{"venue_type": "glamping", "confidence": 0.9}`},
		l,
		classification.ClassifierConfig{ConfidenceThreshold: cfg.ConfidenceThreshold, MaxAttempts: 1},
	)
	comp, err := composer.NewComposer(false)
	require.NoError(t, err)

	handler := NewCampaignHandler(cfg, l, classifier, comp, &fakeChannel{})

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	api := engine.Group("/api")
	api.POST("/contacts/import", handler.HandleImportContacts)
	api.GET("/contacts/:id", handler.HandleGetContact)
	api.POST("/campaign/classify", handler.HandleClassify)
	api.POST("/campaign/compose", handler.HandleCompose)
	api.POST("/campaign/run", handler.HandleRunCampaign)
	api.POST("/campaign/stop", handler.HandleStopCampaign)
	api.GET("/campaign/stats", handler.HandleStats)
	api.GET("/export", handler.HandleExport)
	return engine, l
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func importBody() map[string]interface{} {
	return map[string]interface{}{
		"contacts": []map[string]interface{}{
			{
				"source_id":     "2gis",
				"source_key":    "2gis:111",
				"name":          "Глэмпинг Шымбулак",
				"address":       "Алматы, Медеуский район",
				"phone_raw":     "+7 701 123 45 67",
				"category_text": "глэмпинг",
			},
			{
				"source_id":     "instagram",
				"source_key":    "instagram:shymbulak",
				"name":          "Глэмпинг Шымбулак",
				"address":       "Алматы, Медеуский район",
				"phone_raw":     "8 701 123 45 67",
				"category_text": "отдых",
			},
		},
	}
}

// TestImportContacts проверяет загрузку с нормализацией и дедупликацией
func TestImportContacts(t *testing.T) {
	engine, l := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/contacts/import", importBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ImportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Received)
	assert.Equal(t, 1, resp.Canonical, "duplicate phone must collapse to one contact")

	record, err := l.GetRecord("+77011234567")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateNew, record.State)
	assert.Len(t, record.Contact.SourceKeys, 2)
}

// TestImportContactsEmptyBody проверяет отказ без контактов
func TestImportContactsEmptyBody(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/contacts/import", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestFullPipeline проверяет import → classify → compose → run → stats
func TestFullPipeline(t *testing.T) {
	engine, l := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/contacts/import", importBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, engine, http.MethodPost, "/api/campaign/classify", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var classifyResp ClassifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &classifyResp))
	assert.Equal(t, 1, classifyResp.Processed)
	assert.Equal(t, 1, classifyResp.ByVenueType["glamping"])

	w = doJSON(t, engine, http.MethodPost, "/api/campaign/compose", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var composeResp ComposeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &composeResp))
	assert.Equal(t, 1, composeResp.Composed)

	record, err := l.GetRecord("+77011234567")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateComposed, record.State)
	assert.Contains(t, record.Message, "Глэмпинг Шымбулак")

	w = doJSON(t, engine, http.MethodPost, "/api/campaign/run", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// Фоновая рассылка с быстрым лимитером завершается почти мгновенно
	deadline := time.Now().Add(5 * time.Second)
	for {
		state, err := l.GetState("+77011234567")
		require.NoError(t, err)
		if state == ledger.StateSent {
			break
		}
		require.True(t, time.Now().Before(deadline), "contact was not sent in time, state: %s", state)
		time.Sleep(10 * time.Millisecond)
	}

	w = doJSON(t, engine, http.MethodGet, "/api/campaign/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats ledger.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.ByState[ledger.StateSent])
	assert.Equal(t, 1, stats.Attempts[ledger.OutcomeSuccess])
}

// TestGetContact проверяет чтение контакта с состоянием
func TestGetContact(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/contacts/import", importBody())
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/api/contacts/+77011234567", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Contact struct {
			ContactID string `json:"contact_id"`
			Name      string `json:"name"`
		} `json:"contact"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "+77011234567", resp.Contact.ContactID)
	assert.Equal(t, "Глэмпинг Шымбулак", resp.Contact.Name)
	assert.Equal(t, string(ledger.StateNew), resp.State)
}

// TestGetContactNotFound проверяет 404 для неизвестного контакта
func TestGetContactNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodGet, "/api/contacts/+77000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestStopWithoutRun проверяет конфликт при остановке без запуска
func TestStopWithoutRun(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/campaign/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

// TestExportUnknownFormat проверяет отказ для неизвестного формата
func TestExportUnknownFormat(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodGet, "/api/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestExportJSON проверяет выгрузку отчета
func TestExportJSON(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/contacts/import", importBody())
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/api/export?format=json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "campaign_report.json")

	var report struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Total)
}
