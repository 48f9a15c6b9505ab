package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"outreach/ledger"
)

// ExportFormat формат экспорта
type ExportFormat string

const (
	FormatJSON  ExportFormat = "json"
	FormatCSV   ExportFormat = "csv"
	FormatExcel ExportFormat = "excel"
)

// ExportedRow строка отчета кампании по одному контакту
type ExportedRow struct {
	ContactID      string  `json:"contact_id"`
	Name           string  `json:"name"`
	Address        string  `json:"address"`
	PhoneE164      string  `json:"phone_e164"`
	SourceKeys     string  `json:"source_keys"`
	VenueType      string  `json:"venue_type"`
	Confidence     float64 `json:"confidence"`
	State          string  `json:"state"`
	Attempts       int     `json:"attempts"`
	LastOutcome    string  `json:"last_outcome"`
	LastError      string  `json:"last_error"`
	MessagePreview string  `json:"message_preview"`
}

// Exporter экспортер результатов кампании
type Exporter struct {
	ledger *ledger.Ledger
}

// NewExporter создает новый экспортер
func NewExporter(l *ledger.Ledger) *Exporter {
	return &Exporter{ledger: l}
}

// ExportToJSON экспортирует отчет кампании в JSON
func (e *Exporter) ExportToJSON(filename string) error {
	rows, err := e.fetchRows()
	if err != nil {
		return fmt.Errorf("failed to fetch rows: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	result := map[string]interface{}{
		"exported_at": time.Now().Format(time.RFC3339),
		"total":       len(rows),
		"contacts":    rows,
	}

	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// ExportToCSV экспортирует отчет кампании в CSV
func (e *Exporter) ExportToCSV(filename string) error {
	rows, err := e.fetchRows()
	if err != nil {
		return fmt.Errorf("failed to fetch rows: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Заголовки
	headers := []string{
		"Contact ID", "Name", "Address", "Phone", "Sources",
		"Venue Type", "Confidence", "State", "Attempts",
		"Last Outcome", "Last Error", "Message Preview",
	}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	// Данные
	for _, row := range rows {
		record := []string{
			row.ContactID,
			row.Name,
			row.Address,
			row.PhoneE164,
			row.SourceKeys,
			row.VenueType,
			fmt.Sprintf("%.2f", row.Confidence),
			row.State,
			fmt.Sprintf("%d", row.Attempts),
			row.LastOutcome,
			row.LastError,
			row.MessagePreview,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	return nil
}

// ExportToExcel экспортирует отчет кампании в Excel
func (e *Exporter) ExportToExcel(filename string) error {
	rows, err := e.fetchRows()
	if err != nil {
		return fmt.Errorf("failed to fetch rows: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Campaign Report"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	// Стиль заголовков
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	// Заголовки
	headers := []string{
		"Contact ID", "Name", "Address", "Phone", "Sources",
		"Venue Type", "Confidence", "State", "Attempts",
		"Last Outcome", "Last Error", "Message Preview",
	}

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	// Данные
	for rowIdx, row := range rows {
		excelRow := rowIdx + 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", excelRow), row.ContactID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", excelRow), row.Name)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", excelRow), row.Address)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", excelRow), row.PhoneE164)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", excelRow), row.SourceKeys)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", excelRow), row.VenueType)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", excelRow), row.Confidence)
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", excelRow), row.State)
		f.SetCellValue(sheetName, fmt.Sprintf("I%d", excelRow), row.Attempts)
		f.SetCellValue(sheetName, fmt.Sprintf("J%d", excelRow), row.LastOutcome)
		f.SetCellValue(sheetName, fmt.Sprintf("K%d", excelRow), row.LastError)
		f.SetCellValue(sheetName, fmt.Sprintf("L%d", excelRow), row.MessagePreview)
	}

	// Автоширина колонок
	for i := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, col, col, 18)
	}

	f.SetActiveSheet(index)

	if err := f.SaveAs(filename); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}

	return nil
}

// fetchRows собирает строки отчета из журнала кампании
func (e *Exporter) fetchRows() ([]ExportedRow, error) {
	records, err := e.ledger.ListByState(
		ledger.StateNew, ledger.StateClassified, ledger.StateComposed,
		ledger.StateQueued, ledger.StateSent, ledger.StateFailedPermanent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	rows := []ExportedRow{}
	for _, record := range records {
		row := ExportedRow{
			ContactID:      record.Contact.ContactID,
			Name:           record.Contact.Name,
			Address:        record.Contact.Address,
			PhoneE164:      record.Contact.PhoneE164,
			SourceKeys:     strings.Join(record.Contact.SourceKeys, "; "),
			State:          string(record.State),
			MessagePreview: previewMessage(record.Message),
		}

		classification, err := e.ledger.GetClassification(record.Contact.ContactID)
		if err != nil {
			return nil, fmt.Errorf("failed to get classification: %w", err)
		}
		if classification != nil {
			row.VenueType = string(classification.VenueType)
			row.Confidence = classification.Confidence
		}

		attempts, err := e.ledger.ListAttempts(record.Contact.ContactID)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		row.Attempts = len(attempts)
		if len(attempts) > 0 {
			last := attempts[len(attempts)-1]
			row.LastOutcome = string(last.Outcome)
			row.LastError = last.ErrorDetail
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// previewMessage обрезает сообщение до первых 80 знаков одной строкой
func previewMessage(message string) string {
	preview := strings.Join(strings.Fields(message), " ")
	runes := []rune(preview)
	if len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return preview
}
