package contacts

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalizeAll(t *testing.T, raws []RawContact) []NormalizedContact {
	t.Helper()
	n := NewNormalizer("KZ")
	contacts := make([]NormalizedContact, 0, len(raws))
	for _, raw := range raws {
		contact, _ := n.Normalize(raw)
		contacts = append(contacts, contact)
	}
	return contacts
}

// TestDedupMergesByPhone проверяет слияние записей с одинаковым номером
// из разных источников (пример из постановки задачи)
func TestDedupMergesByPhone(t *testing.T) {
	raws := []RawContact{
		{SourceID: "2gis", SourceKey: "2gis:1", Seq: 1, Name: "Глэмпинг Шымбулак", Address: "Алматы", PhoneRaw: "+7 701 123 45 67", CategoryText: "глэмпинг"},
		{SourceID: "maps", SourceKey: "maps:7", Seq: 2, Name: "Shymbulak Glamping", Address: "г. Алматы", PhoneRaw: "7701123 4567", CategoryText: "база отдыха"},
	}

	d := NewDeduplicator(DefaultDeduplicatorConfig())
	result := d.Dedup(normalizeAll(t, raws))

	require.Len(t, result, 1)
	assert.Equal(t, "+77011234567", result[0].PhoneE164)
	assert.Equal(t, "+77011234567", result[0].ContactID)
	assert.Equal(t, []string{"2gis:1", "maps:7"}, result[0].SourceKeys)
	assert.Equal(t, "глэмпинг; база отдыха", result[0].CategoryText)
}

// TestDedupFuzzyMatchWithoutPhone проверяет вторичный нечеткий ключ
func TestDedupFuzzyMatchWithoutPhone(t *testing.T) {
	raws := []RawContact{
		{SourceKey: "a:1", Seq: 1, Name: "Гостевой дом Алтын Арашан", Address: "Алматинская область, Талгар"},
		{SourceKey: "b:2", Seq: 2, Name: "Гостевой дом Алтын-Арашан", Address: "Алматинская область, Талгар."},
		{SourceKey: "c:3", Seq: 3, Name: "Санаторий Алатау", Address: "Алматы, Каменское плато"},
	}

	d := NewDeduplicator(DefaultDeduplicatorConfig())
	result := d.Dedup(normalizeAll(t, raws))

	require.Len(t, result, 2)
	assert.Equal(t, []string{"a:1", "b:2"}, result[0].SourceKeys)
	assert.Equal(t, []string{"c:3"}, result[1].SourceKeys)

	// Без телефона идентификатор — хеш от названия и адреса
	assert.NotEmpty(t, result[0].ContactID)
	assert.Len(t, result[0].ContactID, 32)
}

// TestDedupDeterministicUnderPermutation проверяет, что любой порядок входа
// дает одинаковый набор канонических контактов с теми же contact_id
func TestDedupDeterministicUnderPermutation(t *testing.T) {
	raws := []RawContact{
		{SourceKey: "s:1", Seq: 1, Name: "Глэмпинг Шымбулак", Address: "Алматы", PhoneRaw: "+7 701 123 45 67"},
		{SourceKey: "s:2", Seq: 2, Name: "Shymbulak Glamping", Address: "Алматы", PhoneRaw: "87011234567"},
		{SourceKey: "s:3", Seq: 3, Name: "Отель Казахстан", Address: "Алматы, пр. Достык 52"},
		{SourceKey: "s:4", Seq: 4, Name: "Отель «Казахстан»", Address: "Алматы пр Достык 52"},
		{SourceKey: "s:5", Seq: 5, Name: "Турбаза Аюсай", Address: "Большое Алматинское ущелье", PhoneRaw: "+7 777 555 11 22"},
	}

	d := NewDeduplicator(DefaultDeduplicatorConfig())
	base := d.Dedup(normalizeAll(t, raws))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := make([]RawContact, len(raws))
		copy(shuffled, raws)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		result := d.Dedup(normalizeAll(t, shuffled))
		require.Len(t, result, len(base))
		for j := range base {
			assert.Equal(t, base[j].ContactID, result[j].ContactID)
			assert.Equal(t, base[j].SourceKeys, result[j].SourceKeys)
		}
	}
}

// TestDedupTieBreakPrefersEarlierGroup проверяет разрешение ничьей в пользу
// группы с более ранним основателем
func TestDedupTieBreakPrefersEarlierGroup(t *testing.T) {
	raws := []RawContact{
		{SourceKey: "g:1", Seq: 1, Name: "Юрточный лагерь Саты", Address: "село Саты"},
		{SourceKey: "g:2", Seq: 2, Name: "Юрточный лагерь Саты", Address: "село Саты"},
		{SourceKey: "g:3", Seq: 3, Name: "Юрточный лагерь Саты", Address: "село Саты"},
	}

	d := NewDeduplicator(DefaultDeduplicatorConfig())
	result := d.Dedup(normalizeAll(t, raws))

	require.Len(t, result, 1)
	assert.Equal(t, 1, result[0].Seq)
	assert.Equal(t, []string{"g:1", "g:2", "g:3"}, result[0].SourceKeys)
}

// TestSimilarityScorer проверяет пороговые значения схожести
func TestSimilarityScorer(t *testing.T) {
	sc := NewSimilarityScorer(DefaultSimilarityWeights())

	assert.Equal(t, 1.0, sc.Score("глэмпинг тау", "глэмпинг тау"))
	assert.InDelta(t, 1.0, sc.Score("глэмпинги тау", "глэмпинг тау"), 0.2, "stemming should absorb inflection")
	assert.Less(t, sc.Score("глэмпинг тау", "санаторий алатау"), 0.5)
	assert.Equal(t, 0.0, sc.Score("", "глэмпинг"))
}
