package classification

import (
	"fmt"
	"strings"

	"outreach/contacts"
)

// systemPrompt системный промпт классификатора типов заведений
const systemPrompt = `Ты определяешь тип туристического объекта по названию и категории. Отвечай строго JSON-объектом.`

// buildPrompt строит промпт для классификации контакта.
// Формат ответа фиксирован, чтобы разбор не зависел от настроения модели
func buildPrompt(contact contacts.CanonicalContact) string {
	types := make([]string, 0, len(AllVenueTypes))
	for _, t := range AllVenueTypes {
		types = append(types, string(t))
	}

	category := contact.CategoryText
	if category == "" {
		category = "не указана"
	}

	return fmt.Sprintf(`Определи тип объекта.

Название: %s
Категория: %s

Допустимые типы: %s

JSON: {"venue_type": "hotel", "confidence": 0.9}`,
		contact.Name,
		category,
		strings.Join(types, ", "),
	)
}
