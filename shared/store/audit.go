package store

import (
	"context"
	"time"
)

// AuditEntry is one recorded write request.
type AuditEntry struct {
	ID           int64     `json:"id"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	RequestID    string    `json:"request_id"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	Status       int       `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordAudit stores e. A zero CreatedAt is set to now.
func (s *Store) RecordAudit(ctx context.Context, e AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.ExecWithRetry(ctx, `
		INSERT INTO audits (
			actor, action, resource_type, resource_id, request_id,
			ip_address, user_agent, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Actor, e.Action, e.ResourceType, e.ResourceID, e.RequestID,
		e.IPAddress, e.UserAgent, e.Status, FormatTS(e.CreatedAt),
	)
	return err
}

// ListAudits returns the newest limit entries, newest first.
func (s *Store) ListAudits(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, actor, action, resource_type, resource_id, request_id,
			ip_address, user_agent, status, created_at
		FROM audits ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var created string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.ResourceType, &e.ResourceID, &e.RequestID,
			&e.IPAddress, &e.UserAgent, &e.Status, &created); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = ParseTS(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
