// Package audit records successful write requests.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// Recorder persists audit entries.
type Recorder interface {
	RecordAudit(ctx context.Context, e store.AuditEntry) error
}

// Auditor is the audit middleware.
type Auditor struct {
	recorder Recorder
	logger   *logrus.Entry
}

// NewAuditor creates an auditor writing to recorder.
func NewAuditor(recorder Recorder, logger *logrus.Logger) *Auditor {
	return &Auditor{recorder: recorder, logger: logger.WithField("component", "audit")}
}

// Middleware tags every request with an id and records writes that
// succeeded.
func (a *Auditor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if r.Method == http.MethodGet || r.Method == http.MethodHead || wrapped.statusCode >= 400 {
			return
		}

		actor := r.Header.Get("X-User")
		if actor == "" {
			actor = "anonymous"
		}
		entry := store.AuditEntry{
			Actor:        actor,
			Action:       fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			ResourceType: extractResourceType(r.URL.Path),
			ResourceID:   mux.Vars(r)["id"],
			RequestID:    requestID,
			IPAddress:    clientIP(r),
			UserAgent:    r.UserAgent(),
			Status:       wrapped.statusCode,
			CreatedAt:    time.Now(),
		}
		if err := a.recorder.RecordAudit(r.Context(), entry); err != nil {
			a.logger.WithError(err).WithField("request_id", requestID).Error("Failed to write audit log")
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}

func extractResourceType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 0 && parts[0] == "api" {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "unknown"
}
