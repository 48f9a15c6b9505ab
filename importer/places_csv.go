package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"outreach/contacts"
)

// placesColumns индексы колонок экспорта мест 2GIS
type placesColumns struct {
	id       int
	name     int
	address  int
	phone    int
	social   int
	category int
	city     int
}

// ParsePlacesCSVFile парсит файл экспорта мест 2GIS
func ParsePlacesCSVFile(filePath string, startSeq int) ([]contacts.RawContact, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read places file: %w", err)
	}
	return ParsePlacesCSV(bytes.NewReader(decodeLegacy(data)), startSeq)
}

// ParsePlacesCSV парсит экспорт мест 2GIS.
// Колонки определяются по заголовку, порядок не фиксирован
func ParsePlacesCSV(r io.Reader, startSeq int) ([]contacts.RawContact, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("file is too short, expected at least header row and one data row")
	}

	cols := findPlacesColumns(rows[0])
	if cols.name == -1 {
		return nil, fmt.Errorf("required column 'name' not found in CSV headers")
	}

	log.Printf("[Importer] Found columns - Name: %d, Address: %d, Phone: %d, Category: %d",
		cols.name, cols.address, cols.phone, cols.category)

	var records []contacts.RawContact
	for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
		row := rows[rowIdx]
		if isEmptyRow(row) {
			continue
		}

		record := contacts.RawContact{
			SourceID: "2gis",
			Seq:      startSeq + len(records),
		}
		record.Name = cellAt(row, cols.name)
		record.Address = cellAt(row, cols.address)
		record.PhoneRaw = firstPhone(cellAt(row, cols.phone))
		record.SocialHandle = cellAt(row, cols.social)
		record.CategoryText = cellAt(row, cols.category)

		if city := cellAt(row, cols.city); city != "" && record.Address != "" &&
			!strings.Contains(strings.ToLower(record.Address), strings.ToLower(city)) {
			record.Address = city + ", " + record.Address
		}

		if id := cellAt(row, cols.id); id != "" {
			record.SourceKey = "2gis:" + id
		} else {
			record.SourceKey = fmt.Sprintf("2gis:row%d", rowIdx)
		}

		if record.Name == "" {
			continue
		}
		records = append(records, record)
	}

	log.Printf("[Importer] Parsed %d places from CSV", len(records))
	return records, nil
}

// findPlacesColumns определяет индексы колонок по заголовкам
func findPlacesColumns(headers []string) placesColumns {
	cols := placesColumns{id: -1, name: -1, address: -1, phone: -1, social: -1, category: -1, city: -1}
	for i, header := range headers {
		switch strings.TrimSpace(strings.ToLower(header)) {
		case "id", "place_id":
			cols.id = i
		case "name", "название":
			cols.name = i
		case "address", "адрес":
			cols.address = i
		case "contacts", "phone", "телефон", "контакты":
			cols.phone = i
		case "social", "instagram", "соцсети":
			cols.social = i
		case "category", "query", "категория", "запрос":
			cols.category = i
		case "city", "город":
			cols.city = i
		}
	}
	return cols
}

// cellAt безопасно читает ячейку строки
func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// isEmptyRow проверяет, что строка не содержит данных
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// firstPhone берет первый номер из списка контактов, разделенных запятыми
// или точкой с запятой
func firstPhone(raw string) string {
	for _, sep := range []string{";", ","} {
		if idx := strings.Index(raw, sep); idx >= 0 {
			return strings.TrimSpace(raw[:idx])
		}
	}
	return strings.TrimSpace(raw)
}

// decodeLegacy перекодирует windows-1251 в UTF-8, если файл выгружен
// в старой кодировке
func decodeLegacy(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	log.Println("[Importer] Decoded legacy windows-1251 file")
	return decoded
}
