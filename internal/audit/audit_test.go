package audit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

type captureLogger struct {
	entries []Entry
}

func (c *captureLogger) Log(ctx context.Context, entry Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func TestRecorder_Record(t *testing.T) {
	logs := &captureLogger{}
	rec := NewRecorder(logs, "tenant-a")
	err := rec.Record(context.Background(), "revenue-batch", "closing.generate", "monthly_closing", "2025-03", map[string]any{"site_count": 2})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(logs.entries))
	}
	entry := logs.entries[0]
	if entry.TenantID != "tenant-a" || entry.Role != "system" || entry.ResourceID != "2025-03" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	var meta map[string]int
	if err := json.Unmarshal(entry.Metadata, &meta); err != nil || meta["site_count"] != 2 {
		t.Fatalf("unexpected metadata %s", entry.Metadata)
	}

	var nilRecorder *Recorder
	if err := nilRecorder.Record(context.Background(), "a", "b", "c", "d", nil); err != nil {
		t.Fatalf("nil recorder should be a no-op: %v", err)
	}
}

func TestDigestJSONAndIDs(t *testing.T) {
	if DigestJSON(nil) != "" {
		t.Fatalf("empty payload should have empty digest")
	}
	a := DigestJSON([]byte(`{"a":1}`))
	if len(a) != 64 || a != DigestJSON([]byte(`{"a":1}`)) || a == DigestJSON([]byte(`{"a":2}`)) {
		t.Fatalf("unexpected digest %q", a)
	}
	if id := NewID(); !strings.HasPrefix(id, "audit-") || id == NewID() {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if ip := ClientIP(req); ip != "10.0.0.9" {
		t.Fatalf("expected remote addr host, got %q", ip)
	}
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if ip := ClientIP(req); ip != "10.0.0.2" {
		t.Fatalf("expected real ip, got %q", ip)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ip := ClientIP(req); ip != "203.0.113.7" {
		t.Fatalf("expected forwarded ip, got %q", ip)
	}
}
