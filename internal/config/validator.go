package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	var errors []string

	// Валидация порта
	if c.Port == "" {
		errors = append(errors, "port is required")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("invalid port: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("port must be between 1 and 65535, got %d", port))
		}
	}

	// Валидация пути к базе данных
	if c.LedgerDatabasePath == "" {
		errors = append(errors, "ledger database path is required")
	}

	// Валидация AI конфигурации
	if c.AIModel == "" {
		errors = append(errors, "AI model is required")
	}
	if c.AITimeout < time.Second {
		errors = append(errors, "AI timeout must be at least 1 second")
	}
	if c.AIMaxAttempts < 1 {
		errors = append(errors, "AI max attempts must be at least 1")
	}

	// Валидация порогов
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errors = append(errors, "confidence threshold must be between 0 and 1")
	}
	if c.NameSimilarityThreshold <= 0 || c.NameSimilarityThreshold > 1 {
		errors = append(errors, "name similarity threshold must be in (0, 1]")
	}
	if c.AddressSimilarityThreshold <= 0 || c.AddressSimilarityThreshold > 1 {
		errors = append(errors, "address similarity threshold must be in (0, 1]")
	}

	// Валидация региона телефонов
	validRegions := []string{"KZ", "RU"}
	valid := false
	regionUpper := strings.ToUpper(c.DefaultPhoneRegion)
	for _, region := range validRegions {
		if regionUpper == region {
			valid = true
			break
		}
	}
	if !valid {
		errors = append(errors, fmt.Sprintf("invalid default phone region: %s (valid: %s)",
			c.DefaultPhoneRegion, strings.Join(validRegions, ", ")))
	}

	// Валидация параметров отправки
	if c.SendRatePerMinute < 1 {
		errors = append(errors, "send rate per minute must be at least 1")
	}
	if c.SendMaxRetries < 0 {
		errors = append(errors, "send max retries cannot be negative")
	}
	if c.SendBackoffBase < time.Second {
		errors = append(errors, "send backoff base must be at least 1 second")
	}
	if c.SendBackoffCap < c.SendBackoffBase {
		errors = append(errors, "send backoff cap cannot be less than backoff base")
	}
	if c.SenderWorkers < 1 {
		errors = append(errors, "sender workers must be at least 1")
	}
	if c.ClassifyWorkers < 1 {
		errors = append(errors, "classify workers must be at least 1")
	}

	// Валидация шлюза
	if c.WhatsAppGatewayURL == "" {
		errors = append(errors, "whatsapp gateway url is required")
	}
	if c.WhatsAppTimeout < time.Second {
		errors = append(errors, "whatsapp timeout must be at least 1 second")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// GetDefaults возвращает конфигурацию со значениями по умолчанию
func GetDefaults() *Config {
	return &Config{
		Port:                       "9999",
		LedgerDatabasePath:         "campaign.db",
		AIModel:                    "gemini-2.5-flash-lite",
		AIBaseURL:                  "https://api.arliai.com",
		AITimeout:                  30 * time.Second,
		AIMaxAttempts:              3,
		ConfidenceThreshold:        0.6,
		ClassifyWorkers:            4,
		NameSimilarityThreshold:    0.82,
		AddressSimilarityThreshold: 0.75,
		DefaultPhoneRegion:         "KZ",
		SendRatePerMinute:          2,
		SendMaxRetries:             3,
		SendBackoffBase:            30 * time.Second,
		SendBackoffCap:             10 * time.Minute,
		SenderWorkers:              1,
		WhatsAppGatewayURL:         "http://localhost:3000",
		WhatsAppTimeout:            60 * time.Second,
	}
}
