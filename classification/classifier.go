package classification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"outreach/contacts"
)

// Cache хранилище результатов классификации на время кампании.
// Реализуется журналом кампании: запись для contact_id делается один раз
// и больше никогда не перезаписывается
type Cache interface {
	GetClassification(contactID string) (*Classification, error)
	SaveClassification(c Classification) error
}

// ClassifierConfig конфигурация классификатора
type ClassifierConfig struct {
	ConfidenceThreshold float64       // Ниже порога тип сводится к unknown
	MaxAttempts         int           // Количество попыток при временных ошибках
	InitialDelay        time.Duration // Начальная задержка между попытками
	MaxDelay            time.Duration // Потолок экспоненциальной задержки
}

// DefaultClassifierConfig возвращает конфигурацию по умолчанию
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		ConfidenceThreshold: 0.6,
		MaxAttempts:         3,
		InitialDelay:        time.Second,
		MaxDelay:            30 * time.Second,
	}
}

// Classifier определяет тип заведения по текстовым сигналам контакта
type Classifier struct {
	client CompletionClient
	cache  Cache
	config ClassifierConfig
}

// NewClassifier создает новый классификатор
func NewClassifier(client CompletionClient, cache Cache, config ClassifierConfig) *Classifier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = 30 * time.Second
	}
	return &Classifier{
		client: client,
		cache:  cache,
		config: config,
	}
}

// aiAnswer ожидаемый JSON ответа модели
type aiAnswer struct {
	VenueType  string  `json:"venue_type"`
	Confidence float64 `json:"confidence"`
}

// Classify возвращает классификацию контакта.
// Уже классифицированный контакт берется из кэша без обращения к API —
// это ограничивает объем внешних вызовов и делает повторные прогоны
// детерминированными. Непреходящая ошибка немедленно дает unknown/0.
// Отмена контекста возвращает ошибку и не попадает в кэш: прерванный
// прогон не должен навсегда пометить контакт как unknown
func (cl *Classifier) Classify(ctx context.Context, contact contacts.CanonicalContact) (Classification, error) {
	if cl.cache != nil {
		cached, err := cl.cache.GetClassification(contact.ContactID)
		if err != nil {
			return Classification{}, fmt.Errorf("classification cache lookup failed: %w", err)
		}
		if cached != nil {
			return *cached, nil
		}
	}

	result, err := cl.classifyRemote(ctx, contact)
	if err != nil {
		return Classification{}, err
	}

	if cl.cache != nil {
		if err := cl.cache.SaveClassification(result); err != nil {
			return Classification{}, fmt.Errorf("failed to store classification: %w", err)
		}
	}
	return result, nil
}

// classifyRemote вызывает внешний классификатор с повторами.
// Реальный исход сводится к валидной записи Classification: при исчерпании
// попыток или постоянной ошибке это unknown с нулевой уверенностью.
// Отмена контекста — не исход классификации, а обрыв прогона, поэтому
// возвращается ошибкой
func (cl *Classifier) classifyRemote(ctx context.Context, contact contacts.CanonicalContact) (Classification, error) {
	result := Classification{
		ContactID:    contact.ContactID,
		VenueType:    VenueUnknown,
		Confidence:   0,
		ClassifiedAt: time.Now().UTC(),
	}

	delay := cl.config.InitialDelay
	for attempt := 1; attempt <= cl.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		answer, err := cl.callOnce(ctx, contact)
		if err == nil {
			result.VenueType = ParseVenueType(answer.VenueType)
			result.Confidence = clampConfidence(answer.Confidence)
			if result.Confidence < cl.config.ConfidenceThreshold {
				log.Printf("[Classifier] %s: confidence %.2f below threshold %.2f, marking unknown",
					contact.ContactID, result.Confidence, cl.config.ConfidenceThreshold)
				result.VenueType = VenueUnknown
			}
			return result, nil
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			log.Printf("[Classifier] %s: permanent error, marking unknown: %v", contact.ContactID, err)
			return result, nil
		}

		if attempt < cl.config.MaxAttempts {
			log.Printf("[Classifier] %s: attempt %d/%d failed, retrying in %v: %v",
				contact.ContactID, attempt, cl.config.MaxAttempts, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
			delay *= 2
			if delay > cl.config.MaxDelay {
				delay = cl.config.MaxDelay
			}
		} else {
			log.Printf("[Classifier] %s: giving up after %d attempts: %v",
				contact.ContactID, cl.config.MaxAttempts, err)
		}
	}

	// Последняя попытка могла сорваться из-за обрыва контекста
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// callOnce делает один запрос к модели и разбирает ответ
func (cl *Classifier) callOnce(ctx context.Context, contact contacts.CanonicalContact) (*aiAnswer, error) {
	response, err := cl.client.GetCompletion(ctx, systemPrompt, buildPrompt(contact))
	if err != nil {
		return nil, err
	}

	answer, err := parseAnswer(response)
	if err != nil {
		// Модель может вернуть мусор один раз и валидный JSON в следующий
		return nil, &TransientError{Err: err}
	}
	return answer, nil
}

// parseAnswer разбирает JSON ответа, снимая возможные markdown-ограждения
func parseAnswer(response string) (*aiAnswer, error) {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}

	var answer aiAnswer
	if err := json.Unmarshal([]byte(response), &answer); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w, response: %s", err, response)
	}
	if answer.VenueType == "" {
		return nil, errors.New("empty venue_type in AI response")
	}
	return &answer, nil
}

// clampConfidence приводит уверенность к диапазону [0, 1]
func clampConfidence(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
