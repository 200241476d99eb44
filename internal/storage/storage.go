package storage

import (
	"context"
	"errors"

	"github.com/xaenox/wcf-bot/internal/models"
)

// ErrPersist marks a failed write to durable storage. In-memory state stays valid.
var ErrPersist = errors.New("storage: persist failed")

// MessageLog is the time-ordered log of every observed event.
type MessageLog interface {
	// Append adds an event and returns its position in arrival order. A
	// persistence failure is reported but the event is kept in memory.
	Append(ev *models.Event) (int, error)
	Len() int
	// Newest calls fn for events at positions < before, newest first, until fn returns false.
	Newest(before int, fn func(ev *models.Event) bool)
	Flush() error
	Close() error
}

// AuditLog records chat-completion attempts.
type AuditLog interface {
	Record(ctx context.Context, entry models.RequestLog) error
	Close() error
}

// MultiAudit fans a record out to every sink and joins their errors.
type MultiAudit []AuditLog

func (m MultiAudit) Record(ctx context.Context, entry models.RequestLog) error {
	var errs []error
	for _, a := range m {
		if err := a.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiAudit) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
