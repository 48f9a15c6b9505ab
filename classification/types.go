package classification

import (
	"fmt"
	"time"
)

// VenueType тип заведения
type VenueType string

const (
	VenueHotel      VenueType = "hotel"
	VenueGlamping   VenueType = "glamping"
	VenueResort     VenueType = "resort"
	VenueSanatorium VenueType = "sanatorium"
	VenueGuesthouse VenueType = "guesthouse"
	VenueUnknown    VenueType = "unknown"
)

// AllVenueTypes список типов, которые умеет выдавать классификатор
// (без unknown — он служебный)
var AllVenueTypes = []VenueType{
	VenueHotel,
	VenueGlamping,
	VenueResort,
	VenueSanatorium,
	VenueGuesthouse,
}

// ParseVenueType разбирает строку в тип заведения, неизвестные значения
// сводятся к unknown
func ParseVenueType(s string) VenueType {
	switch VenueType(s) {
	case VenueHotel, VenueGlamping, VenueResort, VenueSanatorium, VenueGuesthouse:
		return VenueType(s)
	default:
		return VenueUnknown
	}
}

// Classification результат классификации одного контакта
type Classification struct {
	ContactID    string    `json:"contact_id"`
	VenueType    VenueType `json:"venue_type"`
	Confidence   float64   `json:"confidence"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// TransientError временная ошибка классификации: таймаут, лимит запросов.
// Повторяется с экспоненциальной задержкой
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient classification error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError постоянная ошибка классификации: неверный запрос,
// отказ в авторизации. Не повторяется
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent classification error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}
