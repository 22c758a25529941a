package domain

import "strings"

// PaymentStatusKind: закрытый набор тегов статуса платежа.
type PaymentStatusKind int

const (
	// PaymentStatusOther: любой тег, который сервис не обрабатывает.
	PaymentStatusOther PaymentStatusKind = iota
	// PaymentStatusCreated: платёж создан, нужно привязать его к заказу.
	PaymentStatusCreated
	// PaymentStatusSuccess: платёж проведён.
	PaymentStatusSuccess
)

func (k PaymentStatusKind) String() string {
	switch k {
	case PaymentStatusCreated:
		return "created"
	case PaymentStatusSuccess:
		return "success"
	default:
		return "other"
	}
}

// PaymentStatus хранит распознанный тег и исходную строку из сообщения.
type PaymentStatus struct {
	kind PaymentStatusKind
	raw  string
}

// ParsePaymentStatus распознаёт CREATED и SUCCESS без учёта регистра,
// всё остальное попадает в Other с сохранением исходного значения.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CREATED":
		return PaymentStatus{kind: PaymentStatusCreated, raw: raw}
	case "SUCCESS":
		return PaymentStatus{kind: PaymentStatusSuccess, raw: raw}
	default:
		return PaymentStatus{kind: PaymentStatusOther, raw: raw}
	}
}

// Kind возвращает тег статуса.
func (s PaymentStatus) Kind() PaymentStatusKind { return s.kind }

// Raw возвращает строку статуса как она пришла в сообщении.
func (s PaymentStatus) Raw() string { return s.raw }

func (s PaymentStatus) String() string {
	if s.kind == PaymentStatusOther {
		return "other(" + s.raw + ")"
	}
	return s.kind.String()
}

// PaymentEvent: входящее событие о платеже.
type PaymentEvent struct {
	PaymentID string
	OrderID   string
	Status    PaymentStatus
}
