package notify

import (
	"errors"
	"time"
)

// Type classifies a notification.
type Type string

const (
	TypeApproved      Type = "approved"
	TypeRejected      Type = "rejected"
	TypeInfoRequested Type = "info_requested"
	TypeOther         Type = "other"
)

// Types lists every notification type.
var Types = []Type{TypeApproved, TypeRejected, TypeInfoRequested, TypeOther}

// Sentinel errors for the notification store.
var (
	ErrInvalidRecord = errors.New("notify: invalid record")
	ErrNoIdentity    = errors.New("notify: no stable user identity")
	ErrInvalidEvent  = errors.New("notify: invalid event")
)

// Record is one stored notification.
type Record struct {
	ID              string         `json:"id" validate:"required,max=128"`
	Type            Type           `json:"type" validate:"required,oneof=approved rejected info_requested other"`
	Title           string         `json:"title" validate:"required,max=256"`
	Body            string         `json:"body" validate:"max=4096"`
	RejectionReason *string        `json:"rejectionReason,omitempty"`
	ApprovalNotes   *string        `json:"approvalNotes,omitempty"`
	ReceivedAt      time.Time      `json:"receivedAt" validate:"required"`
	ActionTakenAt   *time.Time     `json:"actionTakenAt,omitempty"`
	IsRead          bool           `json:"isRead"`
	RawData         map[string]any `json:"rawData,omitempty"`
}

// sameEvent reports whether r and o describe the same server event.
func (r Record) sameEvent(o Record) bool {
	return r.Type == o.Type &&
		equalOptional(r.RejectionReason, o.RejectionReason) &&
		equalOptional(r.ApprovalNotes, o.ApprovalNotes)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// markRead sets the read flag and the action timestamp.
func (r *Record) markRead(now time.Time) {
	r.IsRead = true
	r.ActionTakenAt = &now
}

// String returns a pointer to s, for the optional record fields.
func String(s string) *string { return &s }
