// Package-internal event payloads published to RabbitMQ when a record moves
// through its lifecycle. Downstream consumers (analytics, ops tooling) bind to
// the record_events topic exchange.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Exchange and routing keys for record lifecycle events.
const (
	RecordEventsExchange      = "record_events"
	RoutingKeyPaymentComplete = "record.payment.completed"
	RoutingKeyReportReady     = "record.report.ready"
)

// PaymentCompletedEvent is published after a verified checkout completion has
// been applied to a record.
type PaymentCompletedEvent struct {
	RecordID        uuid.UUID `json:"record_id"`
	AccountID       uuid.UUID `json:"account_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	PaidAt          time.Time `json:"paid_at"`
}

// ReportReadyEvent is published when the curation team uploads a finished
// report for a record.
type ReportReadyEvent struct {
	RecordID  uuid.UUID `json:"record_id"`
	AccountID uuid.UUID `json:"account_id"`
	ItemCount int       `json:"item_count"`
	ReadyAt   time.Time `json:"ready_at"`
}
