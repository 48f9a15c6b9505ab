package contacts

import (
	"errors"
	"testing"
)

// TestNormalizeTrimsAndCollapses проверяет нормализацию текстовых полей
func TestNormalizeTrimsAndCollapses(t *testing.T) {
	n := NewNormalizer("KZ")

	contact, err := n.Normalize(RawContact{
		SourceID:  "2gis",
		SourceKey: "2gis:100",
		Name:      "  Глэмпинг   «Шымбулак»  ",
		Address:   "050000  Алматы,  Медеуский район",
		PhoneRaw:  "+7 701 123 45 67",
	})
	if err != nil {
		t.Fatalf("Normalize() returned error: %v", err)
	}

	if contact.Name != `Глэмпинг "Шымбулак"` {
		t.Errorf("Name = %q", contact.Name)
	}
	if contact.Address != "Алматы, Медеуский район" {
		t.Errorf("Address = %q, postal code should be stripped", contact.Address)
	}
	if contact.PhoneE164 != "+77011234567" {
		t.Errorf("PhoneE164 = %q", contact.PhoneE164)
	}
}

// TestNormalizeUnresolvablePhoneKeepsContact проверяет, что контакт с
// неразрешимым телефоном сохраняется, но остается без E.164
func TestNormalizeUnresolvablePhoneKeepsContact(t *testing.T) {
	n := NewNormalizer("KZ")

	contact, err := n.Normalize(RawContact{
		SourceID:  "instagram",
		SourceKey: "ig:glamping_kz",
		Name:      "Eco Glamping Almaty",
		Address:   "Алматы",
		PhoneRaw:  "звоните в директ",
	})
	if !errors.Is(err, ErrUnresolvablePhone) {
		t.Fatalf("Normalize() error = %v, want ErrUnresolvablePhone", err)
	}

	if contact.Name != "Eco Glamping Almaty" {
		t.Errorf("contact fields should survive phone failure, Name = %q", contact.Name)
	}
	if contact.PhoneE164 != "" {
		t.Errorf("PhoneE164 = %q, want empty", contact.PhoneE164)
	}
}

// TestNormalizeEmptyPhoneIsNotError проверяет, что пустой телефон не ошибка
func TestNormalizeEmptyPhoneIsNotError(t *testing.T) {
	n := NewNormalizer("KZ")
	contact, err := n.Normalize(RawContact{SourceKey: "x", Name: "Отель"})
	if err != nil {
		t.Fatalf("Normalize() returned error for empty phone: %v", err)
	}
	if contact.PhoneE164 != "" {
		t.Errorf("PhoneE164 = %q, want empty", contact.PhoneE164)
	}
}
