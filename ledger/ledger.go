package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"outreach/classification"
	"outreach/contacts"
)

// State состояние контакта в кампании
type State string

const (
	StateNew             State = "NEW"
	StateClassified      State = "CLASSIFIED"
	StateComposed        State = "COMPOSED"
	StateQueued          State = "QUEUED"
	StateSent            State = "SENT"
	StateFailedPermanent State = "FAILED_PERMANENT"
)

// Outcome исход попытки отправки
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

var (
	// ErrStaleTransition текущее состояние не совпало с ожидаемым.
	// Вызывающий должен перечитать состояние и повторить свою логику
	ErrStaleTransition = errors.New("stale transition: contact state changed concurrently")
	// ErrInvalidTransition переход нарушает монотонность машины состояний
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrContactNotFound контакт отсутствует в журнале
	ErrContactNotFound = errors.New("contact not found in ledger")
)

// allowedTransitions разрешенные переходы машины состояний.
// Движение только вперед; единственное исключение — откат QUEUED → NEW
// при временном сбое в пределах бюджета повторов
var allowedTransitions = map[State][]State{
	StateNew:        {StateClassified, StateQueued},
	StateClassified: {StateComposed},
	StateComposed:   {StateQueued},
	StateQueued:     {StateSent, StateFailedPermanent, StateNew},
	// SENT и FAILED_PERMANENT терминальны
}

// transitionAllowed проверяет допустимость перехода
func transitionAllowed(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SendAttempt запись журнала о попытке отправки. Только добавляется,
// никогда не изменяется
type SendAttempt struct {
	ContactID     string    `json:"contact_id"`
	AttemptNumber int       `json:"attempt_number"`
	Timestamp     time.Time `json:"timestamp"`
	Outcome       Outcome   `json:"outcome"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
}

// ContactRecord контакт вместе с состоянием кампании
type ContactRecord struct {
	Contact   contacts.CanonicalContact
	State     State
	Message   string     // Скомпонованное сообщение (пусто до COMPOSED)
	NotBefore *time.Time // Отложенный повтор: до этого момента контакт не выбирается
}

// Ledger журнал кампании: единственный владелец состояний контактов
// и журнала попыток отправки
type Ledger struct {
	db *sql.DB
}

// Open открывает журнал кампании и применяет миграции
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close закрывает журнал
func (l *Ledger) Close() error {
	return l.db.Close()
}

// UpsertContact сохраняет канонический контакт и заводит для него состояние
// NEW, если записи еще нет. Повторная загрузка того же контакта безопасна
// и не трогает уже набранное состояние
func (l *Ledger) UpsertContact(contact contacts.CanonicalContact) error {
	sourceKeys, err := json.Marshal(contact.SourceKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal source keys: %w", err)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO contacts (contact_id, name, address, phone_e164, source_keys, category_text, social_handle, photo_url, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			phone_e164 = excluded.phone_e164,
			source_keys = excluded.source_keys,
			category_text = excluded.category_text,
			social_handle = excluded.social_handle,
			photo_url = excluded.photo_url
	`, contact.ContactID, contact.Name, contact.Address, contact.PhoneE164,
		string(sourceKeys), contact.CategoryText, contact.SocialHandle, contact.PhotoURL, contact.Seq)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}

	_, err = tx.Exec(`INSERT OR IGNORE INTO contact_states (contact_id, state) VALUES (?, ?)`,
		contact.ContactID, StateNew)
	if err != nil {
		return fmt.Errorf("failed to init contact state: %w", err)
	}

	return tx.Commit()
}

// NextSeq возвращает порядковый номер для следующей загрузки:
// строго больше всех уже сохраненных, чтобы записи новых загрузок
// не перехватывали старшинство при разрешении ничьих дедупликации
func (l *Ledger) NextSeq() (int, error) {
	var max sql.NullInt64
	if err := l.db.QueryRow(`SELECT MAX(seq) FROM contacts`).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to compute next seq: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// GetState возвращает текущее состояние контакта
func (l *Ledger) GetState(contactID string) (State, error) {
	var state string
	err := l.db.QueryRow(`SELECT state FROM contact_states WHERE contact_id = ?`, contactID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrContactNotFound, contactID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state: %w", err)
	}
	return State(state), nil
}

// Transition переводит контакт из from в to.
// Проверка from-состояния выполняется одним UPDATE и служит оптимистичной
// блокировкой: при конкурентном изменении возвращается ErrStaleTransition
func (l *Ledger) Transition(contactID string, from, to State) error {
	if !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	result, err := l.db.Exec(`
		UPDATE contact_states SET state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE contact_id = ? AND state = ?
	`, to, contactID, from)
	if err != nil {
		return fmt.Errorf("failed to transition %s: %w", contactID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}
	if affected == 0 {
		if _, err := l.GetState(contactID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s expected %s", ErrStaleTransition, contactID, from)
	}
	return nil
}

// SaveMessage сохраняет скомпонованное сообщение контакта
func (l *Ledger) SaveMessage(contactID, message string) error {
	result, err := l.db.Exec(`UPDATE contact_states SET message = ? WHERE contact_id = ?`, message, contactID)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrContactNotFound, contactID)
	}
	return nil
}

// SetNotBefore откладывает выбор контакта до указанного момента.
// Передача нулевого времени снимает отсрочку
func (l *Ledger) SetNotBefore(contactID string, notBefore time.Time) error {
	var value interface{}
	if !notBefore.IsZero() {
		value = notBefore.UTC().Format(time.RFC3339)
	}
	result, err := l.db.Exec(`UPDATE contact_states SET not_before = ? WHERE contact_id = ?`, value, contactID)
	if err != nil {
		return fmt.Errorf("failed to set not_before: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrContactNotFound, contactID)
	}
	return nil
}

// AppendAttempt добавляет запись о попытке отправки.
// Номер попытки вычисляется из журнала, если не задан
func (l *Ledger) AppendAttempt(attempt SendAttempt) (SendAttempt, error) {
	if attempt.AttemptNumber == 0 {
		count, err := l.CountAttempts(attempt.ContactID)
		if err != nil {
			return attempt, err
		}
		attempt.AttemptNumber = count + 1
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}

	_, err := l.db.Exec(`
		INSERT INTO send_attempts (contact_id, attempt_number, timestamp, outcome, error_detail)
		VALUES (?, ?, ?, ?, ?)
	`, attempt.ContactID, attempt.AttemptNumber, attempt.Timestamp.UTC().Format(time.RFC3339),
		attempt.Outcome, attempt.ErrorDetail)
	if err != nil {
		return attempt, fmt.Errorf("failed to append attempt: %w", err)
	}
	return attempt, nil
}

// CountAttempts возвращает количество попыток отправки контакту
func (l *Ledger) CountAttempts(contactID string) (int, error) {
	var count int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM send_attempts WHERE contact_id = ?`, contactID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

// ListAttempts возвращает журнал попыток контакта в порядке добавления
func (l *Ledger) ListAttempts(contactID string) ([]SendAttempt, error) {
	rows, err := l.db.Query(`
		SELECT contact_id, attempt_number, timestamp, outcome, COALESCE(error_detail, '')
		FROM send_attempts WHERE contact_id = ? ORDER BY id
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []SendAttempt
	for rows.Next() {
		var a SendAttempt
		var ts string
		var outcome string
		if err := rows.Scan(&a.ContactID, &a.AttemptNumber, &ts, &outcome, &a.ErrorDetail); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Outcome = Outcome(outcome)
		a.Timestamp, _ = time.Parse(time.RFC3339, ts)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListByState возвращает контакты в любом из указанных состояний,
// отсортированные по порядку загрузки
func (l *Ledger) ListByState(states ...State) ([]ContactRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, state := range states {
		placeholders[i] = "?"
		args[i] = string(state)
	}

	rows, err := l.db.Query(fmt.Sprintf(`
		SELECT c.contact_id, c.name, COALESCE(c.address, ''), COALESCE(c.phone_e164, ''),
		       c.source_keys, COALESCE(c.category_text, ''), COALESCE(c.social_handle, ''),
		       COALESCE(c.photo_url, ''), c.seq,
		       s.state, COALESCE(s.message, ''), s.not_before
		FROM contacts c
		JOIN contact_states s ON s.contact_id = c.contact_id
		WHERE s.state IN (%s)
		ORDER BY c.seq, c.contact_id
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list by state: %w", err)
	}
	defer rows.Close()

	var records []ContactRecord
	for rows.Next() {
		record, err := scanContactRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetRecord возвращает контакт вместе с состоянием
func (l *Ledger) GetRecord(contactID string) (*ContactRecord, error) {
	rows, err := l.db.Query(`
		SELECT c.contact_id, c.name, COALESCE(c.address, ''), COALESCE(c.phone_e164, ''),
		       c.source_keys, COALESCE(c.category_text, ''), COALESCE(c.social_handle, ''),
		       COALESCE(c.photo_url, ''), c.seq,
		       s.state, COALESCE(s.message, ''), s.not_before
		FROM contacts c
		JOIN contact_states s ON s.contact_id = c.contact_id
		WHERE c.contact_id = ?
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: %s", ErrContactNotFound, contactID)
	}
	record, err := scanContactRecord(rows)
	if err != nil {
		return nil, err
	}
	return &record, rows.Err()
}

// scanContactRecord читает одну строку выборки контакта с состоянием
func scanContactRecord(rows *sql.Rows) (ContactRecord, error) {
	var record ContactRecord
	var sourceKeys, state string
	var notBefore sql.NullString

	err := rows.Scan(
		&record.Contact.ContactID, &record.Contact.Name, &record.Contact.Address,
		&record.Contact.PhoneE164, &sourceKeys, &record.Contact.CategoryText,
		&record.Contact.SocialHandle, &record.Contact.PhotoURL, &record.Contact.Seq,
		&state, &record.Message, &notBefore,
	)
	if err != nil {
		return record, fmt.Errorf("failed to scan contact record: %w", err)
	}

	if err := json.Unmarshal([]byte(sourceKeys), &record.Contact.SourceKeys); err != nil {
		return record, fmt.Errorf("failed to unmarshal source keys: %w", err)
	}
	record.State = State(state)
	if notBefore.Valid && notBefore.String != "" {
		if ts, err := time.Parse(time.RFC3339, notBefore.String); err == nil {
			record.NotBefore = &ts
		}
	}
	return record, nil
}

// SaveClassification сохраняет результат классификации контакта.
// Запись делается один раз: повторное сохранение для того же contact_id
// игнорируется, кэш классификаций живет до конца кампании
func (l *Ledger) SaveClassification(c classification.Classification) error {
	_, err := l.db.Exec(`
		INSERT OR IGNORE INTO classifications (contact_id, venue_type, confidence, classified_at)
		VALUES (?, ?, ?, ?)
	`, c.ContactID, string(c.VenueType), c.Confidence, c.ClassifiedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	return nil
}

// GetClassification возвращает сохраненную классификацию или nil
func (l *Ledger) GetClassification(contactID string) (*classification.Classification, error) {
	var c classification.Classification
	var venueType, classifiedAt string
	err := l.db.QueryRow(`
		SELECT contact_id, venue_type, confidence, classified_at
		FROM classifications WHERE contact_id = ?
	`, contactID).Scan(&c.ContactID, &venueType, &c.Confidence, &classifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}
	c.VenueType = classification.ParseVenueType(venueType)
	c.ClassifiedAt, _ = time.Parse(time.RFC3339, classifiedAt)
	return &c, nil
}

// Stats агрегированная статистика кампании
type Stats struct {
	ByState     map[State]int   `json:"by_state"`
	ByVenueType map[string]int  `json:"by_venue_type"`
	Attempts    map[Outcome]int `json:"attempts"`
	Total       int             `json:"total"`
}

// GetStats возвращает распределение контактов по состояниям и типам
func (l *Ledger) GetStats() (*Stats, error) {
	stats := &Stats{
		ByState:     make(map[State]int),
		ByVenueType: make(map[string]int),
		Attempts:    make(map[Outcome]int),
	}

	rows, err := l.db.Query(`SELECT state, COUNT(*) FROM contact_states GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats.ByState[State(state)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := l.db.Query(`SELECT venue_type, COUNT(*) FROM classifications GROUP BY venue_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate venue types: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var venueType string
		var count int
		if err := typeRows.Scan(&venueType, &count); err != nil {
			return nil, err
		}
		stats.ByVenueType[venueType] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	attemptRows, err := l.db.Query(`SELECT outcome, COUNT(*) FROM send_attempts GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate attempts: %w", err)
	}
	defer attemptRows.Close()
	for attemptRows.Next() {
		var outcome string
		var count int
		if err := attemptRows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		stats.Attempts[Outcome(outcome)] = count
	}
	return stats, attemptRows.Err()
}
