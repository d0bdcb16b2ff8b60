package notify

import (
	"errors"
	"testing"
)

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"registration_approved": TypeApproved,
		"APPROVED":              TypeApproved,
		"registration_rejected": TypeRejected,
		" seller_rejected ":     TypeRejected,
		"info_requested":        TypeInfoRequested,
		"more_info_requested":   TypeInfoRequested,
		"price_drop":            TypeOther,
		"":                      TypeOther,
	}
	for in, want := range tests {
		if got := ParseType(in); got != want {
			t.Errorf("ParseType(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		wantType   Type
		wantTitle  string
		wantBody   string
		wantReason string
		wantNotes  string
	}{
		{
			name:      "approved with notes",
			data:      map[string]any{"type": "registration_approved", "title": "Welcome", "body": "You can sell now", "approval_notes": "fast track"},
			wantType:  TypeApproved,
			wantTitle: "Welcome",
			wantBody:  "You can sell now",
			wantNotes: "fast track",
		},
		{
			name:       "rejected camel case",
			data:       map[string]any{"type": "registration_rejected", "message": "Fix your documents", "rejectionReason": "expired license"},
			wantType:   TypeRejected,
			wantTitle:  "Registration rejected",
			wantBody:   "Fix your documents",
			wantReason: "expired license",
		},
		{
			name:      "nested data payload",
			data:      map[string]any{"title": "Action needed", "data": map[string]any{"event_type": "info_requested", "notes": "upload tax id"}},
			wantType:  TypeInfoRequested,
			wantTitle: "Action needed",
			wantNotes: "upload tax id",
		},
		{
			name:      "unknown type",
			data:      map[string]any{"type": "promo"},
			wantType:  TypeOther,
			wantTitle: "Notification",
		},
		{
			name:      "blank optional fields ignored",
			data:      map[string]any{"type": "rejected", "rejection_reason": "  "},
			wantType:  TypeRejected,
			wantTitle: "Registration rejected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseEvent(tt.data, testNow)
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if rec.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", rec.Type, tt.wantType)
			}
			if rec.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", rec.Title, tt.wantTitle)
			}
			if rec.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", rec.Body, tt.wantBody)
			}
			if got := deref(rec.RejectionReason); got != tt.wantReason {
				t.Errorf("RejectionReason = %q, want %q", got, tt.wantReason)
			}
			if got := deref(rec.ApprovalNotes); got != tt.wantNotes {
				t.Errorf("ApprovalNotes = %q, want %q", got, tt.wantNotes)
			}
			if !rec.ReceivedAt.Equal(testNow) {
				t.Errorf("ReceivedAt = %v", rec.ReceivedAt)
			}
			if len(rec.RawData) != len(tt.data) {
				t.Errorf("RawData has %d keys, want %d", len(rec.RawData), len(tt.data))
			}
		})
	}
}

func TestParseEvent_Empty(t *testing.T) {
	if _, err := ParseEvent(nil, testNow); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("ParseEvent(nil) error = %v, want ErrInvalidEvent", err)
	}
}

func TestParseEvent_RawDataIsCopied(t *testing.T) {
	data := map[string]any{"type": "approved"}
	rec, _ := ParseEvent(data, testNow)
	data["type"] = "rejected"
	if rec.RawData["type"] != "approved" {
		t.Error("RawData aliases the input map")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
