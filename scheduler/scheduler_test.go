package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/contacts"
	"outreach/ledger"
	"outreach/messenger"
)

// fakeChannel канал с заранее заданными исходами отправки по номерам
type fakeChannel struct {
	mu     sync.Mutex
	calls  []string
	script map[string][]error
}

func (f *fakeChannel) Send(ctx context.Context, phoneE164, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, phoneE164)
	queue := f.script[phoneE164]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.script[phoneE164] = queue[1:]
	return err
}

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func openTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "campaign.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// seedComposed заводит контакт, прошедший классификацию и композицию
func seedComposed(t *testing.T, l *ledger.Ledger, phone string, seq int) {
	t.Helper()
	require.NoError(t, l.UpsertContact(contacts.CanonicalContact{
		ContactID: phone,
		Name:      "Глэмпинг Шымбулак",
		Address:   "Алматы",
		PhoneE164: phone,
		Seq:       seq,
	}))
	require.NoError(t, l.Transition(phone, ledger.StateNew, ledger.StateClassified))
	require.NoError(t, l.Transition(phone, ledger.StateClassified, ledger.StateComposed))
	require.NoError(t, l.SaveMessage(phone, "Привет, Глэмпинг Шымбулак!"))
}

func fastConfig() Config {
	return Config{
		RatePerMinute: 100000,
		MaxRetries:    3,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
		Workers:       1,
	}
}

// TestRunSendsComposedContacts проверяет доставку готовых контактов
func TestRunSendsComposedContacts(t *testing.T) {
	l := openTestLedger(t)
	seedComposed(t, l, "+77011111111", 0)
	seedComposed(t, l, "+77012222222", 1)
	channel := &fakeChannel{script: map[string][]error{}}

	report, err := NewScheduler(l, channel, fastConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 0, report.FailedPermanent)
	assert.Equal(t, 2, channel.callCount())

	for _, phone := range []string{"+77011111111", "+77012222222"} {
		state, err := l.GetState(phone)
		require.NoError(t, err)
		assert.Equal(t, ledger.StateSent, state)

		attempts, err := l.ListAttempts(phone)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.Equal(t, ledger.OutcomeSuccess, attempts[0].Outcome)
	}
}

// TestRunRetriesTransientFailures проверяет повтор после временных сбоев
func TestRunRetriesTransientFailures(t *testing.T) {
	l := openTestLedger(t)
	seedComposed(t, l, "+77011111111", 0)
	channel := &fakeChannel{script: map[string][]error{
		"+77011111111": {
			&messenger.TransientError{Err: errors.New("gateway timeout")},
			&messenger.TransientError{Err: errors.New("gateway timeout")},
			nil,
		},
	}}

	report, err := NewScheduler(l, channel, fastConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Deferred)

	state, err := l.GetState("+77011111111")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateSent, state)

	attempts, err := l.ListAttempts("+77011111111")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, ledger.OutcomeTransientFailure, attempts[0].Outcome)
	assert.Equal(t, ledger.OutcomeTransientFailure, attempts[1].Outcome)
	assert.Equal(t, ledger.OutcomeSuccess, attempts[2].Outcome)
}

// TestRunExhaustsRetryBudget проверяет предел попыток MaxRetries+1
func TestRunExhaustsRetryBudget(t *testing.T) {
	l := openTestLedger(t)
	seedComposed(t, l, "+77011111111", 0)
	channel := &fakeChannel{script: map[string][]error{
		"+77011111111": {
			&messenger.TransientError{Err: errors.New("gateway timeout")},
			&messenger.TransientError{Err: errors.New("gateway timeout")},
			&messenger.TransientError{Err: errors.New("gateway timeout")},
		},
	}}

	config := fastConfig()
	config.MaxRetries = 2
	report, err := NewScheduler(l, channel, config).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.FailedPermanent)

	state, err := l.GetState("+77011111111")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFailedPermanent, state)

	count, err := l.CountAttempts("+77011111111")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "attempts must not exceed MaxRetries+1")
}

// TestRunPermanentFailure проверяет немедленный отказ без повторов
func TestRunPermanentFailure(t *testing.T) {
	l := openTestLedger(t)
	seedComposed(t, l, "+77011111111", 0)
	channel := &fakeChannel{script: map[string][]error{
		"+77011111111": {&messenger.PermanentError{Err: errors.New("not registered")}},
	}}

	report, err := NewScheduler(l, channel, fastConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.FailedPermanent)
	assert.Equal(t, 1, channel.callCount())

	state, err := l.GetState("+77011111111")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFailedPermanent, state)

	attempts, err := l.ListAttempts("+77011111111")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, ledger.OutcomePermanentFailure, attempts[0].Outcome)
	assert.Contains(t, attempts[0].ErrorDetail, "not registered")
}

// TestRunIsIdempotent проверяет, что повторный прогон не шлет дубликатов
func TestRunIsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	seedComposed(t, l, "+77011111111", 0)
	channel := &fakeChannel{script: map[string][]error{}}

	_, err := NewScheduler(l, channel, fastConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, channel.callCount())

	report, err := NewScheduler(l, channel, fastConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, channel.callCount(), "second run must not resend")

	count, err := l.CountAttempts("+77011111111")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestRunSkipsNotComposed проверяет, что NEW без сообщения не отправляется
func TestRunSkipsNotComposed(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.UpsertContact(contacts.CanonicalContact{
		ContactID: "+77011111111",
		Name:      "Глэмпинг Шымбулак",
		PhoneE164: "+77011111111",
	}))
	channel := &fakeChannel{script: map[string][]error{}}

	report, err := NewScheduler(l, channel, fastConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 0, channel.callCount())

	state, err := l.GetState("+77011111111")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateNew, state)
}

// TestRunSkipsPhonelessContacts проверяет, что контакты без телефона не выбираются
func TestRunSkipsPhonelessContacts(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.UpsertContact(contacts.CanonicalContact{
		ContactID: "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
		Name:      "Глэмпинг без телефона",
	}))
	require.NoError(t, l.Transition("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6", ledger.StateNew, ledger.StateClassified))
	require.NoError(t, l.Transition("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6", ledger.StateClassified, ledger.StateComposed))
	require.NoError(t, l.SaveMessage("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6", "Привет!"))
	channel := &fakeChannel{script: map[string][]error{}}

	report, err := NewScheduler(l, channel, fastConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 0, channel.callCount())
}

// TestStopBeforeRun проверяет, что остановленный планировщик ничего не шлет
func TestStopBeforeRun(t *testing.T) {
	l := openTestLedger(t)
	seedComposed(t, l, "+77011111111", 0)
	channel := &fakeChannel{script: map[string][]error{}}

	s := NewScheduler(l, channel, fastConfig())
	s.Stop()

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 0, channel.callCount())
}

// TestRunRecoversStrandedQueued проверяет, что контакт, оставшийся в QUEUED
// после аварийного завершения, возвращается в очередь и досылается
func TestRunRecoversStrandedQueued(t *testing.T) {
	l := openTestLedger(t)
	seedComposed(t, l, "+77011111111", 0)
	// Захват без записи исхода: так выглядит журнал после убитого процесса
	require.NoError(t, l.Transition("+77011111111", ledger.StateComposed, ledger.StateQueued))
	channel := &fakeChannel{script: map[string][]error{}}

	report, err := NewScheduler(l, channel, fastConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, channel.callCount())

	state, err := l.GetState("+77011111111")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateSent, state)

	attempts, err := l.ListAttempts("+77011111111")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, ledger.OutcomeTransientFailure, attempts[0].Outcome)
	assert.Contains(t, attempts[0].ErrorDetail, "interrupted")
	assert.Equal(t, ledger.OutcomeSuccess, attempts[1].Outcome)
}

// TestRunRecoveredQueuedRespectsRetryBudget проверяет, что восстановление
// из QUEUED расходует бюджет повторов
func TestRunRecoveredQueuedRespectsRetryBudget(t *testing.T) {
	l := openTestLedger(t)
	seedComposed(t, l, "+77011111111", 0)
	require.NoError(t, l.Transition("+77011111111", ledger.StateComposed, ledger.StateQueued))
	// Бюджет уже израсходован прошлыми прогонами
	for i := 0; i < 3; i++ {
		_, err := l.AppendAttempt(ledger.SendAttempt{
			ContactID: "+77011111111",
			Outcome:   ledger.OutcomeTransientFailure,
		})
		require.NoError(t, err)
	}
	channel := &fakeChannel{script: map[string][]error{}}

	config := fastConfig()
	config.MaxRetries = 3
	report, err := NewScheduler(l, channel, config).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.FailedPermanent)
	assert.Equal(t, 0, channel.callCount())

	state, err := l.GetState("+77011111111")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFailedPermanent, state)
}

// TestBackoffDelay проверяет рост и потолок задержки
func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second
	ceiling := 10 * time.Minute

	assert.Equal(t, 30*time.Second, backoffDelay(base, ceiling, 1))
	assert.Equal(t, time.Minute, backoffDelay(base, ceiling, 2))
	assert.Equal(t, 2*time.Minute, backoffDelay(base, ceiling, 3))
	assert.Equal(t, 4*time.Minute, backoffDelay(base, ceiling, 4))
	assert.Equal(t, 8*time.Minute, backoffDelay(base, ceiling, 5))
	assert.Equal(t, ceiling, backoffDelay(base, ceiling, 6))
	assert.Equal(t, ceiling, backoffDelay(base, ceiling, 12))

	// Задержка не убывает с номером попытки
	previous := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		delay := backoffDelay(base, ceiling, attempt)
		assert.GreaterOrEqual(t, delay, previous)
		previous = delay
	}
}
