// Package workflow implements the delay-notification flow (§4.J): a
// teammate calls in to report a running-late appointment, the calendar is
// updated, and the affected customer is called back with wait/alternative
// options. Every external side effect (calendar, SMS, audit log) is behind a
// small interface so the flow logic can be tested without any of them.
package workflow

import (
	"context"
	"time"
)

// DelayAuditEntry records one teammate-reported delay (§6 audit log).
type DelayAuditEntry struct {
	AppointmentID string
	OldTime       time.Time
	NewTime       time.Time
	Caller        string
	Reason        string
	Status        string
}

// CustomerResponseEntry records the outcome of the customer-side call.
type CustomerResponseEntry struct {
	AppointmentID string
	Response      string
	NewTime       time.Time
	Status        string
}

// AuditLog persists both tables described in §6. SQLiteAuditLog is the only
// implementation.
type AuditLog interface {
	LogDelay(ctx context.Context, entry DelayAuditEntry) error
	LogCustomerResponse(ctx context.Context, entry CustomerResponseEntry) error
}
