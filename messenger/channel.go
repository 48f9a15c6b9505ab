package messenger

import (
	"context"
	"errors"
	"fmt"
)

// Channel канал доставки сообщений. Единственная точка,
// через которую планировщик общается с внешним миром
type Channel interface {
	Send(ctx context.Context, phoneE164, message string) error
}

// TransientError временный сбой доставки: таймаут, перегрузка шлюза,
// обрыв сессии. Отправку можно повторить
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient send error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError постоянный сбой доставки: номер не зарегистрирован
// в WhatsApp, получатель заблокировал отправителя. Повтор бессмысленен
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent send error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsTransient сообщает, можно ли повторить отправку после этой ошибки
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsPermanent сообщает, что повтор отправки бессмысленен
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
