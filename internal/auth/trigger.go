package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	triggerTimestampHeader = "X-Trigger-Timestamp"
	triggerSignatureHeader = "X-Trigger-Signature"
	triggerSubject         = "scheduler"
)

// TriggerAuthMiddleware admits calls from an external scheduler that signs
// each request with a shared secret. Admitted calls run as an admin of the
// served tenant.
type TriggerAuthMiddleware struct {
	secret   []byte
	maxSkew  time.Duration
	tenantID string
	now      func() time.Time
}

// NewTriggerAuthMiddleware constructs trigger auth middleware. A zero
// maxSkew disables the timestamp window.
func NewTriggerAuthMiddleware(secret []byte, maxSkew time.Duration, tenantID string) *TriggerAuthMiddleware {
	return &TriggerAuthMiddleware{secret: secret, maxSkew: maxSkew, tenantID: tenantID, now: time.Now}
}

// Wrap rejects unsigned or stale trigger calls with 401.
func (m *TriggerAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := m.verify(r)
		if err != nil {
			status := http.StatusUnauthorized
			if !isTriggerAuthError(err) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := WithIdentity(r.Context(), m.tenantID, RoleAdmin, triggerSubject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verify checks the signature headers and returns the consumed body.
func (m *TriggerAuthMiddleware) verify(r *http.Request) ([]byte, error) {
	if len(m.secret) == 0 {
		return nil, ErrTriggerNotConfigured
	}
	timestamp := strings.TrimSpace(r.Header.Get(triggerTimestampHeader))
	signature := strings.ToLower(strings.TrimSpace(r.Header.Get(triggerSignatureHeader)))
	if timestamp == "" || signature == "" {
		return nil, ErrTriggerUnsigned
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, ErrTriggerUnsigned
	}
	if m.maxSkew > 0 {
		skew := m.now().Sub(time.Unix(unix, 0))
		if skew < -m.maxSkew || skew > m.maxSkew {
			return nil, ErrTriggerExpired
		}
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, err
		}
	}
	if !hmac.Equal([]byte(signature), []byte(SignTrigger(m.secret, timestamp, r.URL.Path, body))) {
		return nil, ErrTriggerSignature
	}
	return body, nil
}

func isTriggerAuthError(err error) bool {
	return errors.Is(err, ErrTriggerNotConfigured) ||
		errors.Is(err, ErrTriggerUnsigned) ||
		errors.Is(err, ErrTriggerExpired) ||
		errors.Is(err, ErrTriggerSignature)
}

// SignTrigger returns the hex HMAC-SHA256 of timestamp, path and body,
// joined by newlines.
func SignTrigger(secret []byte, timestamp, path string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	for i, part := range [][]byte{[]byte(timestamp), []byte(path), body} {
		if i > 0 {
			_, _ = mac.Write([]byte{'\n'})
		}
		_, _ = mac.Write(part)
	}
	return hex.EncodeToString(mac.Sum(nil))
}
