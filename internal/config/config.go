package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config конфигурация кампании и сервера
type Config struct {
	// Сервер
	Port string `json:"port"`

	// База данных кампании
	LedgerDatabasePath string `json:"ledger_database_path"`

	// AI конфигурация
	AIAPIKey      string        `json:"ai_api_key"`
	AIModel       string        `json:"ai_model"`
	AIBaseURL     string        `json:"ai_base_url"`
	AITimeout     time.Duration `json:"ai_timeout"`
	AIMaxAttempts int           `json:"ai_max_attempts"`

	// Классификация
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	ClassifyWorkers     int     `json:"classify_workers"`

	// Дедупликация
	NameSimilarityThreshold    float64 `json:"name_similarity_threshold"`
	AddressSimilarityThreshold float64 `json:"address_similarity_threshold"`

	// Нормализация телефонов
	DefaultPhoneRegion string `json:"default_phone_region"`

	// Отправка
	SendRatePerMinute   int           `json:"send_rate_per_minute"`
	SendMaxRetries      int           `json:"send_max_retries"`
	SendBackoffBase     time.Duration `json:"send_backoff_base"`
	SendBackoffCap      time.Duration `json:"send_backoff_cap"`
	SenderWorkers       int           `json:"sender_workers"`
	SendUnknownOverride bool          `json:"send_unknown_override"`

	// WhatsApp шлюз
	WhatsAppGatewayURL string        `json:"whatsapp_gateway_url"`
	WhatsAppTimeout    time.Duration `json:"whatsapp_timeout"`
}

// LoadConfig загружает конфигурацию из переменных окружения
func LoadConfig() (*Config, error) {
	config := &Config{
		// Сервер
		Port: getEnv("SERVER_PORT", "9999"),

		// База данных
		LedgerDatabasePath: getEnv("LEDGER_DATABASE_PATH", "campaign.db"),

		// AI конфигурация
		AIAPIKey:      os.Getenv("AI_API_KEY"),
		AIModel:       getEnv("AI_MODEL", "gemini-2.5-flash-lite"),
		AIBaseURL:     getEnv("AI_BASE_URL", "https://api.arliai.com"),
		AITimeout:     getEnvDuration("AI_TIMEOUT", 30*time.Second),
		AIMaxAttempts: getEnvInt("AI_MAX_ATTEMPTS", 3),

		// Классификация
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.6),
		ClassifyWorkers:     getEnvInt("CLASSIFY_WORKERS", 4),

		// Дедупликация
		NameSimilarityThreshold:    getEnvFloat("NAME_SIMILARITY_THRESHOLD", 0.82),
		AddressSimilarityThreshold: getEnvFloat("ADDRESS_SIMILARITY_THRESHOLD", 0.75),

		// Телефоны
		DefaultPhoneRegion: getEnv("DEFAULT_PHONE_REGION", "KZ"),

		// Отправка
		SendRatePerMinute:   getEnvInt("SEND_RATE_PER_MINUTE", 2),
		SendMaxRetries:      getEnvInt("SEND_MAX_RETRIES", 3),
		SendBackoffBase:     getEnvDuration("SEND_BACKOFF_BASE", 30*time.Second),
		SendBackoffCap:      getEnvDuration("SEND_BACKOFF_CAP", 10*time.Minute),
		SenderWorkers:       getEnvInt("SENDER_WORKERS", 1),
		SendUnknownOverride: getEnv("SEND_UNKNOWN_OVERRIDE", "false") == "true",

		// WhatsApp шлюз
		WhatsAppGatewayURL: getEnv("WHATSAPP_GATEWAY_URL", "http://localhost:3000"),
		WhatsAppTimeout:    getEnvDuration("WHATSAPP_TIMEOUT", 60*time.Second),
	}

	// Валидация
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// getEnv получает переменную окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает переменную окружения как int или возвращает значение по умолчанию
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat получает переменную окружения как float64 или возвращает значение по умолчанию
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration получает переменную окружения как Duration или возвращает значение по умолчанию
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
