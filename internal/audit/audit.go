package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is one row of the audit trail: who did what to which resource.
type Entry struct {
	ID            string
	TenantID      string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	SiteID        string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries. Pricing and commission writes, closings and
// recalculations are all recorded through it.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID returns a fresh audit row id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON fingerprints a metadata payload so tampering is detectable.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Recorder wraps a Logger with request-independent defaults so application
// code and batch jobs can write entries without an HTTP request.
type Recorder struct {
	logger   Logger
	tenantID string
}

// NewRecorder constructs a Recorder. A nil logger yields a no-op recorder.
func NewRecorder(logger Logger, tenantID string) *Recorder {
	return &Recorder{logger: logger, tenantID: tenantID}
}

// Record writes an entry with metadata marshalled to JSON.
func (r *Recorder) Record(ctx context.Context, actor, action, resourceType, resourceID string, meta any) error {
	if r == nil || r.logger == nil {
		return nil
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.logger.Log(ctx, Entry{
		TenantID:     r.tenantID,
		Actor:        actor,
		Role:         "system",
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     payload,
	})
}
