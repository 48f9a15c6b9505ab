package contacts

// RawContact запись о заведении в том виде, в котором её выдал сборщик
type RawContact struct {
	SourceID     string `json:"source_id"`               // Идентификатор сборщика (2gis, maps, instagram)
	SourceKey    string `json:"source_key"`              // Локальный идентификатор записи в источнике
	Seq          int    `json:"seq"`                     // Порядковый номер в последовательности загрузки
	Name         string `json:"name"`
	Address      string `json:"address"`
	PhoneRaw     string `json:"phone_raw"`
	CategoryText string `json:"category_text"`
	SocialHandle string `json:"social_handle,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

// NormalizedContact запись после нормализации полей
type NormalizedContact struct {
	SourceID     string
	SourceKey    string
	Seq          int
	Name         string // Обрезанное имя с нормализованным Unicode
	Address      string
	PhoneE164    string // Пустая строка, если номер не удалось привести к E.164
	CategoryText string
	SocialHandle string
	PhotoURL     string
}

// CanonicalContact одно заведение после дедупликации всех источников
type CanonicalContact struct {
	ContactID    string   `json:"contact_id"`
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	PhoneE164    string   `json:"phone_e164,omitempty"`
	SourceKeys   []string `json:"source_keys"` // Отсортированы для детерминизма
	CategoryText string   `json:"category_text"`
	SocialHandle string   `json:"social_handle,omitempty"`
	PhotoURL     string   `json:"photo_url,omitempty"`
	Seq          int      `json:"seq"` // Порядковый номер самой ранней записи группы
}

// Sendable сообщает, может ли контакт участвовать в отправке
func (c *CanonicalContact) Sendable() bool {
	return c.PhoneE164 != ""
}
