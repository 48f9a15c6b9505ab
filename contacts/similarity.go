package contacts

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
)

// SimilarityWeights веса компонентов комбинированной схожести
type SimilarityWeights struct {
	TokenSet    float64 // Вес пересечения множеств токенов
	Levenshtein float64 // Вес нормализованного расстояния Левенштейна
}

// DefaultSimilarityWeights возвращает веса по умолчанию
func DefaultSimilarityWeights() SimilarityWeights {
	return SimilarityWeights{
		TokenSet:    0.6,
		Levenshtein: 0.4,
	}
}

// SimilarityScorer вычисляет схожесть нормализованных строк
type SimilarityScorer struct {
	weights SimilarityWeights
}

// NewSimilarityScorer создает новый вычислитель схожести
func NewSimilarityScorer(weights SimilarityWeights) *SimilarityScorer {
	if weights.TokenSet <= 0 && weights.Levenshtein <= 0 {
		weights = DefaultSimilarityWeights()
	}
	return &SimilarityScorer{weights: weights}
}

// Score вычисляет комбинированную схожесть двух строк в диапазоне [0, 1]:
// взвешенная сумма пересечения множеств токенов и расстояния Левенштейна
func (sc *SimilarityScorer) Score(s1, s2 string) float64 {
	s1 = strings.ToLower(strings.TrimSpace(s1))
	s2 = strings.ToLower(strings.TrimSpace(s2))
	if s1 == s2 {
		return 1.0
	}
	if s1 == "" || s2 == "" {
		return 0.0
	}

	var sum, totalWeight float64
	if sc.weights.TokenSet > 0 {
		sum += sc.TokenSetOverlap(s1, s2) * sc.weights.TokenSet
		totalWeight += sc.weights.TokenSet
	}
	if sc.weights.Levenshtein > 0 {
		sum += LevenshteinSimilarity(s1, s2) * sc.weights.Levenshtein
		totalWeight += sc.weights.Levenshtein
	}

	if totalWeight == 0 {
		return 0.0
	}
	return sum / totalWeight
}

// TokenSetOverlap вычисляет индекс Жаккара для множеств стеммированных токенов
func (sc *SimilarityScorer) TokenSetOverlap(s1, s2 string) float64 {
	set1 := stemTokens(tokenize(s1))
	set2 := stemTokens(tokenize(s2))

	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for token := range set1 {
		if set2[token] {
			intersection++
		}
	}
	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// tokenize разбивает строку на токены по небуквенным символам
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// stemTokens стеммирует токены алгоритмом Snowball.
// Названия заведений смешивают русский и английский, поэтому русский стеммер
// применяется только к кириллическим токенам
func stemTokens(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if isCyrillic(token) {
			if stemmed, err := snowball.Stem(token, "russian", true); err == nil && stemmed != "" {
				set[stemmed] = true
				continue
			}
		}
		set[strings.ToLower(token)] = true
	}
	return set
}

// isCyrillic проверяет, что токен состоит в основном из кириллицы
func isCyrillic(token string) bool {
	for _, r := range token {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

// LevenshteinSimilarity вычисляет схожесть на основе расстояния Левенштейна
func LevenshteinSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	maxLen := len([]rune(s1))
	if l2 := len([]rune(s2)); l2 > maxLen {
		maxLen = l2
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshteinDistance(s1, s2))/float64(maxLen)
}

// levenshteinDistance вычисляет расстояние Левенштейна между строками
func levenshteinDistance(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	len1 := len(r1)
	len2 := len(r2)

	if len1 == 0 {
		return len2
	}
	if len2 == 0 {
		return len1
	}

	prev := make([]int, len2+1)
	curr := make([]int, len2+1)
	for j := 0; j <= len2; j++ {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		curr[0] = i
		for j := 1; j <= len2; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len2]
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
