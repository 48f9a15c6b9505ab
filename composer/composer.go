package composer

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	"outreach/classification"
	"outreach/contacts"
)

// ErrMissingTemplate возвращается, когда для типа заведения нет шаблона.
// Для unknown шаблона нет намеренно: такие контакты не участвуют в рассылке
var ErrMissingTemplate = errors.New("no message template for venue type")

// templateData данные для подстановки в шаблон
type templateData struct {
	Name       string
	Address    string
	TypePhrase string
}

// Composer собирает персонализированное сообщение по типу заведения.
// Композиция чистая: одна и та же пара (контакт, тип) всегда дает
// один и тот же текст
type Composer struct {
	templates map[classification.VenueType]*template.Template
	override  bool // Разрешить unknown через общий шаблон
}

// NewComposer создает композер со встроенными шаблонами кампании
func NewComposer(allowUnknownOverride bool) (*Composer, error) {
	templates := make(map[classification.VenueType]*template.Template, len(builtinTemplates))
	for venueType, text := range builtinTemplates {
		tmpl, err := template.New(string(venueType)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template for %s: %w", venueType, err)
		}
		templates[venueType] = tmpl
	}
	return &Composer{templates: templates, override: allowUnknownOverride}, nil
}

// Compose рендерит сообщение для контакта.
// Для unknown возвращает ErrMissingTemplate, если не включен операторский
// override — тогда используется общий шаблон
func (c *Composer) Compose(contact contacts.CanonicalContact, venueType classification.VenueType) (string, error) {
	tmpl, ok := c.templates[venueType]
	if !ok {
		if venueType == classification.VenueUnknown && c.override {
			tmpl = c.templates[fallbackTemplateKey]
		} else {
			return "", fmt.Errorf("%w: %s", ErrMissingTemplate, venueType)
		}
	}

	data := templateData{
		Name:       contact.Name,
		Address:    contact.Address,
		TypePhrase: typePhrases[venueType],
	}
	if data.TypePhrase == "" {
		data.TypePhrase = "ваше замечательное место"
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template for %s: %w", venueType, err)
	}
	return buf.String(), nil
}
