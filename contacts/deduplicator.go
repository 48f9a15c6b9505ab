package contacts

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DeduplicatorConfig пороги нечеткого сопоставления
type DeduplicatorConfig struct {
	NameThreshold    float64           // Минимальная схожесть названий
	AddressThreshold float64           // Минимальная схожесть адресов
	Weights          SimilarityWeights // Веса алгоритмов схожести
}

// DefaultDeduplicatorConfig возвращает пороги по умолчанию
func DefaultDeduplicatorConfig() DeduplicatorConfig {
	return DeduplicatorConfig{
		NameThreshold:    0.82,
		AddressThreshold: 0.75,
		Weights:          DefaultSimilarityWeights(),
	}
}

// Deduplicator сводит нормализованные записи в канонические контакты.
// Чистая функция полного набора записей: одинаковый вход в любом порядке
// дает одинаковый результат
type Deduplicator struct {
	config DeduplicatorConfig
	scorer *SimilarityScorer
}

// NewDeduplicator создает новый дедупликатор
func NewDeduplicator(config DeduplicatorConfig) *Deduplicator {
	if config.NameThreshold <= 0 {
		config.NameThreshold = 0.82
	}
	if config.AddressThreshold <= 0 {
		config.AddressThreshold = 0.75
	}
	return &Deduplicator{
		config: config,
		scorer: NewSimilarityScorer(config.Weights),
	}
}

// group промежуточная группа записей одного заведения
type group struct {
	founder NormalizedContact // Самая ранняя запись группы
	members []NormalizedContact
}

// Dedup группирует записи по заведениям и возвращает канонические контакты,
// отсортированные по порядку загрузки самой ранней записи группы.
// Первичный ключ — точное совпадение E.164, вторичный — нечеткая схожесть
// названия и адреса среди записей без телефона
func (d *Deduplicator) Dedup(records []NormalizedContact) []CanonicalContact {
	// Стабильный порядок обхода не зависит от порядка на входе
	sorted := make([]NormalizedContact, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Seq != sorted[j].Seq {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].SourceKey < sorted[j].SourceKey
	})

	phoneGroups := make(map[string]*group)
	var phoneOrder []string
	var fuzzyGroups []*group

	for _, record := range sorted {
		if record.PhoneE164 != "" {
			if g, ok := phoneGroups[record.PhoneE164]; ok {
				g.members = append(g.members, record)
				continue
			}
			g := &group{founder: record, members: []NormalizedContact{record}}
			phoneGroups[record.PhoneE164] = g
			phoneOrder = append(phoneOrder, record.PhoneE164)
			continue
		}

		// Записи без телефона сопоставляются нечетко между собой
		if g := d.bestFuzzyMatch(fuzzyGroups, record); g != nil {
			g.members = append(g.members, record)
			continue
		}
		fuzzyGroups = append(fuzzyGroups, &group{founder: record, members: []NormalizedContact{record}})
	}

	result := make([]CanonicalContact, 0, len(phoneOrder)+len(fuzzyGroups))
	for _, phone := range phoneOrder {
		result = append(result, d.merge(phoneGroups[phone]))
	}
	for _, g := range fuzzyGroups {
		result = append(result, d.merge(g))
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result
}

// bestFuzzyMatch находит группу с наибольшей комбинированной схожестью.
// Кандидаты обходятся в порядке создания групп, поэтому при равном счете
// выигрывает группа с более ранним основателем
func (d *Deduplicator) bestFuzzyMatch(groups []*group, record NormalizedContact) *group {
	var best *group
	bestScore := 0.0

	for _, g := range groups {
		nameScore := d.scorer.Score(g.founder.Name, record.Name)
		if nameScore < d.config.NameThreshold {
			continue
		}
		addrScore := d.scorer.Score(g.founder.Address, record.Address)
		if addrScore < d.config.AddressThreshold {
			continue
		}
		combined := nameScore + addrScore
		if combined > bestScore {
			bestScore = combined
			best = g
		}
	}
	return best
}

// merge сводит группу записей в один канонический контакт
func (d *Deduplicator) merge(g *group) CanonicalContact {
	founder := g.founder

	keySet := make(map[string]bool)
	var categories []string
	social := ""
	photo := ""
	phone := ""

	for _, m := range g.members {
		if m.SourceKey != "" {
			keySet[m.SourceKey] = true
		}
		if m.CategoryText != "" {
			categories = append(categories, m.CategoryText)
		}
		if social == "" && m.SocialHandle != "" {
			social = m.SocialHandle
		}
		if photo == "" && m.PhotoURL != "" {
			photo = m.PhotoURL
		}
		if phone == "" && m.PhoneE164 != "" {
			phone = m.PhoneE164
		}
	}

	sourceKeys := make([]string, 0, len(keySet))
	for key := range keySet {
		sourceKeys = append(sourceKeys, key)
	}
	sort.Strings(sourceKeys)

	contact := CanonicalContact{
		Name:         founder.Name,
		Address:      founder.Address,
		PhoneE164:    phone,
		SourceKeys:   sourceKeys,
		CategoryText: mergeCategoryText(categories),
		SocialHandle: social,
		PhotoURL:     photo,
		Seq:          founder.Seq,
	}
	contact.ContactID = ContactID(contact)
	return contact
}

// ContactID вычисляет стабильный идентификатор заведения.
// При наличии телефона это сам E.164, иначе усеченный SHA-256
// от нормализованных названия и адреса
func ContactID(contact CanonicalContact) string {
	if contact.PhoneE164 != "" {
		return contact.PhoneE164
	}
	hash := sha256.Sum256([]byte(CanonicalKey(contact.Name, contact.Address)))
	return hex.EncodeToString(hash[:])[:32]
}

// mergeCategoryText объединяет категории источников, убирая повторы подстрок
func mergeCategoryText(categories []string) string {
	seen := make(map[string]bool)
	var parts []string
	for _, category := range categories {
		for _, part := range strings.Split(category, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key := strings.ToLower(part)
			if seen[key] {
				continue
			}
			seen[key] = true
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "; ")
}
