package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"outreach/ledger"
	"outreach/messenger"
)

// Config конфигурация планировщика отправки
type Config struct {
	RatePerMinute int           // Допуск отправок в минуту
	MaxRetries    int           // Повторы после первой попытки
	BackoffBase   time.Duration // Базовая задержка перед повтором
	BackoffCap    time.Duration // Потолок задержки
	Workers       int           // Размер пула отправителей
}

// Report итог прогона планировщика
type Report struct {
	Sent            int `json:"sent"`
	FailedPermanent int `json:"failed_permanent"`
	Deferred        int `json:"deferred"`
}

// Scheduler планировщик отправки: выбирает готовые контакты, захватывает
// их переводом в QUEUED и доставляет через канал под общим лимитером.
// Переход в QUEUED служит оптимистичной блокировкой: контакт, захваченный
// одним отправителем, недоступен остальным
type Scheduler struct {
	ledger  *ledger.Ledger
	channel messenger.Channel
	limiter *rate.Limiter
	config  Config

	mu       sync.Mutex
	report   Report
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler создает планировщик отправки
func NewScheduler(l *ledger.Ledger, channel messenger.Channel, config Config) *Scheduler {
	if config.RatePerMinute <= 0 {
		config.RatePerMinute = 2
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 30 * time.Second
	}
	if config.BackoffCap < config.BackoffBase {
		config.BackoffCap = 10 * time.Minute
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	return &Scheduler{
		ledger:  l,
		channel: channel,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RatePerMinute)), 1),
		config:  config,
		stopCh:  make(chan struct{}),
	}
}

// Stop мягко останавливает прогон: новые контакты не захватываются,
// начатые попытки доводятся до записи в журнал
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run выполняет прогон кампании до исчерпания готовых контактов.
// Контакты с отложенным повтором дожидаются своего not_before.
// Прогон можно повторять: уже отправленные контакты не выбираются
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	log.Printf("[Scheduler] Starting send run: %d workers, %d/min", s.config.Workers, s.config.RatePerMinute)

	if err := s.recoverQueued(); err != nil {
		return s.snapshot(), err
	}

	for {
		select {
		case <-s.stopCh:
			return s.snapshot(), nil
		default:
		}

		ready, nextDeferred, err := s.eligible()
		if err != nil {
			return s.snapshot(), err
		}

		if len(ready) == 0 {
			if nextDeferred.IsZero() {
				report := s.snapshot()
				log.Printf("[Scheduler] Run finished: sent=%d failed=%d", report.Sent, report.FailedPermanent)
				return report, nil
			}
			if err := s.waitUntil(ctx, nextDeferred); err != nil {
				return s.snapshot(), err
			}
			select {
			case <-s.stopCh:
				return s.snapshot(), nil
			default:
			}
			continue
		}

		if err := s.runPass(ctx, ready); err != nil {
			return s.snapshot(), err
		}

		select {
		case <-s.stopCh:
			log.Println("[Scheduler] Stop requested, draining done")
			return s.snapshot(), nil
		default:
		}
	}
}

// recoverQueued возвращает в очередь контакты, застрявшие в QUEUED после
// аварийного завершения прошлого прогона. Исход прерванной доставки
// неизвестен, поэтому она фиксируется в журнале как временный сбой
// и расходует бюджет повторов
func (s *Scheduler) recoverQueued() error {
	records, err := s.ledger.ListByState(ledger.StateQueued)
	if err != nil {
		return err
	}

	for _, record := range records {
		contactID := record.Contact.ContactID
		attempt, err := s.ledger.AppendAttempt(ledger.SendAttempt{
			ContactID:   contactID,
			Outcome:     ledger.OutcomeTransientFailure,
			ErrorDetail: "delivery interrupted, outcome not recorded",
		})
		if err != nil {
			return err
		}

		if attempt.AttemptNumber >= s.config.MaxRetries+1 {
			if err := s.ledger.Transition(contactID, ledger.StateQueued, ledger.StateFailedPermanent); err != nil {
				return err
			}
			s.mu.Lock()
			s.report.FailedPermanent++
			s.mu.Unlock()
			log.Printf("[Scheduler] Recovered %s from stale QUEUED: retry budget exhausted", contactID)
			continue
		}

		if err := s.ledger.Transition(contactID, ledger.StateQueued, ledger.StateNew); err != nil {
			return err
		}
		log.Printf("[Scheduler] Recovered %s from stale QUEUED, requeued", contactID)
	}
	return nil
}

// eligible возвращает контакты, готовые к отправке прямо сейчас,
// и ближайший момент not_before среди отложенных
func (s *Scheduler) eligible() ([]ledger.ContactRecord, time.Time, error) {
	records, err := s.ledger.ListByState(ledger.StateComposed, ledger.StateNew)
	if err != nil {
		return nil, time.Time{}, err
	}

	now := time.Now()
	var ready []ledger.ContactRecord
	var nextDeferred time.Time
	for _, record := range records {
		if !record.Contact.Sendable() {
			continue
		}
		// NEW без сообщения — еще не прошел композицию
		if record.State == ledger.StateNew && record.Message == "" {
			continue
		}
		if record.NotBefore != nil && record.NotBefore.After(now) {
			if nextDeferred.IsZero() || record.NotBefore.Before(nextDeferred) {
				nextDeferred = *record.NotBefore
			}
			continue
		}
		ready = append(ready, record)
	}
	return ready, nextDeferred, nil
}

// waitUntil ждет наступления момента отложенного повтора
func (s *Scheduler) waitUntil(ctx context.Context, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return nil
	case <-timer.C:
		return nil
	}
}

// runPass раздает готовые контакты пулу отправителей
func (s *Scheduler) runPass(ctx context.Context, ready []ledger.ContactRecord) error {
	jobs := make(chan ledger.ContactRecord)
	var wg sync.WaitGroup

	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				s.process(ctx, record)
			}
		}()
	}

feed:
	for _, record := range ready {
		// Остановка имеет приоритет над раздачей
		select {
		case <-ctx.Done():
			break feed
		case <-s.stopCh:
			break feed
		default:
		}
		select {
		case <-ctx.Done():
			break feed
		case <-s.stopCh:
			break feed
		case jobs <- record:
		}
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}

// process выполняет одну экскурсию контакта через QUEUED.
// Каждая экскурсия заканчивается записью попытки и переходом
// в SENT, FAILED_PERMANENT или обратно в NEW
func (s *Scheduler) process(ctx context.Context, record ledger.ContactRecord) {
	contactID := record.Contact.ContactID

	if err := s.ledger.Transition(contactID, record.State, ledger.StateQueued); err != nil {
		if errors.Is(err, ledger.ErrStaleTransition) {
			// Контакт уже захвачен другим отправителем
			return
		}
		log.Printf("[Scheduler] Failed to claim %s: %v", contactID, err)
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		// Прогон отменен до попытки: возвращаем контакт в очередь
		if rollbackErr := s.ledger.Transition(contactID, ledger.StateQueued, ledger.StateNew); rollbackErr != nil {
			log.Printf("[Scheduler] Failed to release %s: %v", contactID, rollbackErr)
		}
		return
	}

	sendErr := s.channel.Send(ctx, record.Contact.PhoneE164, record.Message)
	switch {
	case sendErr == nil:
		s.recordSuccess(contactID)
	case messenger.IsTransient(sendErr):
		s.recordTransient(contactID, sendErr)
	default:
		s.recordPermanent(contactID, sendErr)
	}
}

// recordSuccess фиксирует доставку
func (s *Scheduler) recordSuccess(contactID string) {
	if _, err := s.ledger.AppendAttempt(ledger.SendAttempt{
		ContactID: contactID,
		Outcome:   ledger.OutcomeSuccess,
	}); err != nil {
		log.Printf("[Scheduler] Failed to record attempt for %s: %v", contactID, err)
		return
	}
	if err := s.ledger.Transition(contactID, ledger.StateQueued, ledger.StateSent); err != nil {
		log.Printf("[Scheduler] Failed to mark %s sent: %v", contactID, err)
		return
	}
	s.mu.Lock()
	s.report.Sent++
	s.mu.Unlock()
	log.Printf("[Scheduler] Sent to %s", contactID)
}

// recordTransient фиксирует временный сбой: откат в NEW с отсрочкой,
// пока не исчерпан бюджет повторов
func (s *Scheduler) recordTransient(contactID string, sendErr error) {
	attempt, err := s.ledger.AppendAttempt(ledger.SendAttempt{
		ContactID:   contactID,
		Outcome:     ledger.OutcomeTransientFailure,
		ErrorDetail: sendErr.Error(),
	})
	if err != nil {
		log.Printf("[Scheduler] Failed to record attempt for %s: %v", contactID, err)
		return
	}

	if attempt.AttemptNumber >= s.config.MaxRetries+1 {
		if err := s.ledger.Transition(contactID, ledger.StateQueued, ledger.StateFailedPermanent); err != nil {
			log.Printf("[Scheduler] Failed to mark %s failed: %v", contactID, err)
			return
		}
		s.mu.Lock()
		s.report.FailedPermanent++
		s.mu.Unlock()
		log.Printf("[Scheduler] Retry budget exhausted for %s after %d attempts", contactID, attempt.AttemptNumber)
		return
	}

	delay := backoffDelay(s.config.BackoffBase, s.config.BackoffCap, attempt.AttemptNumber)
	if err := s.ledger.Transition(contactID, ledger.StateQueued, ledger.StateNew); err != nil {
		log.Printf("[Scheduler] Failed to requeue %s: %v", contactID, err)
		return
	}
	if err := s.ledger.SetNotBefore(contactID, time.Now().Add(delay)); err != nil {
		log.Printf("[Scheduler] Failed to defer %s: %v", contactID, err)
		return
	}
	s.mu.Lock()
	s.report.Deferred++
	s.mu.Unlock()
	log.Printf("[Scheduler] Deferred %s for %s (attempt %d): %v", contactID, delay, attempt.AttemptNumber, sendErr)
}

// recordPermanent фиксирует постоянный сбой
func (s *Scheduler) recordPermanent(contactID string, sendErr error) {
	if _, err := s.ledger.AppendAttempt(ledger.SendAttempt{
		ContactID:   contactID,
		Outcome:     ledger.OutcomePermanentFailure,
		ErrorDetail: sendErr.Error(),
	}); err != nil {
		log.Printf("[Scheduler] Failed to record attempt for %s: %v", contactID, err)
		return
	}
	if err := s.ledger.Transition(contactID, ledger.StateQueued, ledger.StateFailedPermanent); err != nil {
		log.Printf("[Scheduler] Failed to mark %s failed: %v", contactID, err)
		return
	}
	s.mu.Lock()
	s.report.FailedPermanent++
	s.mu.Unlock()
	log.Printf("[Scheduler] Permanent failure for %s: %v", contactID, sendErr)
}

// snapshot возвращает копию счетчиков прогона
func (s *Scheduler) snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// backoffDelay экспоненциальная задержка перед повтором, не выше потолка
func backoffDelay(base, ceiling time.Duration, attemptNumber int) time.Duration {
	delay := base
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}
