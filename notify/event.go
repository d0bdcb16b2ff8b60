package notify

import (
	"maps"
	"strings"
	"time"
)

var eventTypes = map[string]Type{
	"registration_approved":       TypeApproved,
	"seller_approved":             TypeApproved,
	"approved":                    TypeApproved,
	"registration_rejected":       TypeRejected,
	"seller_rejected":             TypeRejected,
	"rejected":                    TypeRejected,
	"info_requested":              TypeInfoRequested,
	"more_info_requested":         TypeInfoRequested,
	"registration_info_requested": TypeInfoRequested,
}

var defaultTitles = map[Type]string{
	TypeApproved:      "Registration approved",
	TypeRejected:      "Registration rejected",
	TypeInfoRequested: "More information requested",
	TypeOther:         "Notification",
}

// ParseType maps a server event type to a Type. Unknown values are TypeOther.
func ParseType(s string) Type {
	if t, ok := eventTypes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return TypeOther
}

// ParseEvent builds a Record from a server push payload. Fields are looked up
// at the top level first, then inside a nested "data" object. The returned
// record has no id; Store.Save assigns one.
func ParseEvent(data map[string]any, receivedAt time.Time) (Record, error) {
	if len(data) == 0 {
		return Record{}, ErrInvalidEvent
	}
	p := payload{top: data}
	if nested, ok := data["data"].(map[string]any); ok {
		p.nested = nested
	}

	typ := ParseType(p.str("type", "event_type", "event"))
	rec := Record{
		Type:       typ,
		Title:      p.str("title"),
		Body:       p.str("body", "message"),
		ReceivedAt: receivedAt,
		RawData:    maps.Clone(data),
	}
	if rec.Title == "" {
		rec.Title = defaultTitles[typ]
	}
	if v := p.str("rejection_reason", "rejectionReason", "reason"); v != "" {
		rec.RejectionReason = &v
	}
	if v := p.str("approval_notes", "approvalNotes", "notes"); v != "" {
		rec.ApprovalNotes = &v
	}
	return rec, nil
}

type payload struct {
	top    map[string]any
	nested map[string]any
}

// str returns the first non-blank string found under keys.
func (p payload) str(keys ...string) string {
	for _, m := range []map[string]any{p.top, p.nested} {
		for _, k := range keys {
			if s, ok := m[k].(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
			}
		}
	}
	return ""
}
