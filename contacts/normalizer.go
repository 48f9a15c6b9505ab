package contacts

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalizer приводит сырые записи источников к единому виду
type Normalizer struct {
	region string // Регион по умолчанию для разбора телефонов
}

// NewNormalizer создает новый нормализатор контактов
func NewNormalizer(region string) *Normalizer {
	if region == "" {
		region = "KZ"
	}
	return &Normalizer{region: region}
}

// Normalize нормализует одну сырую запись.
// При невозможности привести телефон к E.164 возвращает контакт с пустым
// PhoneE164 и ошибку ErrUnresolvablePhone: такой контакт проходит дедупликацию
// и классификацию, но никогда не попадает в очередь отправки.
func (n *Normalizer) Normalize(raw RawContact) (NormalizedContact, error) {
	contact := NormalizedContact{
		SourceID:     raw.SourceID,
		SourceKey:    raw.SourceKey,
		Seq:          raw.Seq,
		Name:         NormalizeText(raw.Name),
		Address:      normalizeAddress(raw.Address),
		CategoryText: NormalizeText(raw.CategoryText),
		SocialHandle: strings.TrimSpace(raw.SocialHandle),
		PhotoURL:     strings.TrimSpace(raw.PhotoURL),
	}

	if strings.TrimSpace(raw.PhoneRaw) == "" {
		return contact, nil
	}

	phone, err := NormalizePhone(raw.PhoneRaw, n.region)
	if err != nil {
		return contact, err
	}
	contact.PhoneE164 = phone
	return contact, nil
}

// NormalizeText выполняет базовую нормализацию текстового поля:
// NFC-форма Unicode, замена типографских кавычек, схлопывание пробелов
func NormalizeText(text string) string {
	text = norm.NFC.String(text)
	text = normalizeQuotes(text)
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimSpace(text)
}

// normalizeAddress нормализует адрес: текстовая нормализация плюс
// отбрасывание почтового индекса в начале строки
func normalizeAddress(address string) string {
	address = NormalizeText(address)

	// Почтовый индекс (6 цифр в Казахстане) в начале адреса мешает сравнению
	fields := strings.Fields(address)
	if len(fields) > 1 && len(fields[0]) == 6 && stripNonDigits(fields[0]) == fields[0] {
		address = strings.Join(fields[1:], " ")
	}
	return address
}

// normalizeQuotes нормализует различные типы кавычек
func normalizeQuotes(text string) string {
	replacements := map[rune]rune{
		'“': '"',  // Left double quotation mark
		'”': '"',  // Right double quotation mark
		'‘': '\'', // Left single quotation mark
		'’': '\'', // Right single quotation mark
		'«': '"',
		'»': '"',
	}

	var b strings.Builder
	for _, r := range text {
		if repl, ok := replacements[r]; ok {
			b.WriteRune(repl)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CanonicalKey возвращает строку для вычисления contact_id по имени и адресу
func CanonicalKey(name, address string) string {
	return strings.ToLower(NormalizeText(name)) + "|" + strings.ToLower(NormalizeText(address))
}
