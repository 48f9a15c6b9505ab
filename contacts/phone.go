package contacts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolvablePhone возвращается, когда номер не удаётся привести к E.164.
// Контакт с такой ошибкой сохраняется, но исключается из отправки.
var ErrUnresolvablePhone = errors.New("phone number cannot be resolved to E.164")

// kzMobilePrefixes трёхзначные DEF-коды мобильных операторов Казахстана
var kzMobilePrefixes = map[string]bool{
	"700": true, "701": true, "702": true, "705": true, "706": true,
	"707": true, "708": true, "747": true, "760": true, "761": true,
	"762": true, "763": true, "764": true, "771": true, "775": true,
	"776": true, "777": true, "778": true,
}

// ruMobilePrefixLeading первая цифра DEF-кодов мобильных операторов России
const ruMobilePrefixLeading = '9'

// NormalizePhone приводит сырой номер к каноническому виду E.164.
// Правила для зоны +7 (KZ/RU): 8XXXXXXXXXX и 7XXXXXXXXXX трактуются как
// полный национальный номер, 10 цифр — как номер без кода страны.
// Префикс проверяется по таблице нумерационного плана региона.
func NormalizePhone(raw string, region string) (string, error) {
	digits := stripNonDigits(raw)
	if digits == "" {
		return "", fmt.Errorf("%w: empty after digit stripping: %q", ErrUnresolvablePhone, raw)
	}

	var national string // 10 цифр без кода страны
	switch {
	case len(digits) == 11 && digits[0] == '8':
		national = digits[1:]
	case len(digits) == 11 && digits[0] == '7':
		national = digits[1:]
	case len(digits) == 10:
		national = digits
	default:
		return "", fmt.Errorf("%w: unexpected length %d: %q", ErrUnresolvablePhone, len(digits), raw)
	}

	if !validPrefix(national, region) {
		return "", fmt.Errorf("%w: prefix %s not in %s numbering plan", ErrUnresolvablePhone, national[:3], region)
	}

	return "+7" + national, nil
}

// validPrefix проверяет DEF-код по нумерационному плану региона
func validPrefix(national string, region string) bool {
	if len(national) != 10 {
		return false
	}
	prefix := national[:3]

	switch strings.ToUpper(region) {
	case "KZ":
		if kzMobilePrefixes[prefix] {
			return true
		}
		// Географические коды Казахстана: 71X и 72X
		return prefix[0] == '7' && (prefix[1] == '1' || prefix[1] == '2')
	case "RU":
		if prefix[0] == ruMobilePrefixLeading {
			return true
		}
		// Географические коды России: 3XX, 4XX, 8XX
		return prefix[0] == '3' || prefix[0] == '4' || prefix[0] == '8'
	default:
		return false
	}
}

// stripNonDigits убирает из строки всё, кроме цифр
func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
