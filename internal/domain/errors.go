package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound возвращается, если товар каталога не найден.
	ErrItemNotFound = errors.New("item not found")
	// ErrOrderLineNotFound возвращается, если строка заказа не найдена.
	ErrOrderLineNotFound = errors.New("order item not found")
	// ErrUserNotFound: identity-сервис не знает такого пользователя.
	ErrUserNotFound = errors.New("user not found")
	// ErrInconsistentData: найденный пользователь не владеет заказом.
	ErrInconsistentData = errors.New("inconsistent data")
	// ErrAuthorization: нет bearer-токена или identity-сервис его отклонил.
	ErrAuthorization = errors.New("authorization failed")
	// ErrValidation: запрос не прошёл проверку полей.
	ErrValidation = errors.New("validation failed")
	// ErrServiceUnavailable: внешний сервис недоступен.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrPaymentAlreadyAttached: к заказу уже привязан платёж.
	ErrPaymentAlreadyAttached = errors.New("payment already attached")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Error связывает вид ошибки (один из sentinel выше) с сообщением для клиента.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

// NewError создаёт ошибку заданного вида.
func NewError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause прикрепляет исходную ошибку.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// OrderNotFound возвращает ErrOrderNotFound с сообщением для API.
func OrderNotFound() error {
	return NewError(ErrOrderNotFound, "Order not found")
}

// ItemNotFound называет отсутствующий товар.
func ItemNotFound(id string) error {
	return NewError(ErrItemNotFound, "Item with id '%s' not found", id)
}

// OrderLineNotFound возвращает ErrOrderLineNotFound с сообщением для API.
func OrderLineNotFound() error {
	return NewError(ErrOrderLineNotFound, "Order item not found")
}

// ValidationError собирает нарушения по полям запроса.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError создаёт пустой набор нарушений.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add фиксирует нарушение; первое сообщение по полю побеждает.
func (v *ValidationError) Add(field, message string) {
	if _, exists := v.Fields[field]; exists {
		return
	}
	v.Fields[field] = message
}

// Empty сообщает, что нарушений нет.
func (v *ValidationError) Empty() bool {
	return len(v.Fields) == 0
}

// Err возвращает nil, если нарушений нет.
func (v *ValidationError) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	fields := make([]string, 0, len(v.Fields))
	for field := range v.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.Fields[field])
	}
	return strings.Join(parts, "; ")
}

func (v *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsNotFound объединяет все виды «не найдено», включая отсутствие пользователя.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrOrderLineNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
