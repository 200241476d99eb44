package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/xaenox/wcf-bot/internal/models"
)

// JSONAuditLog keeps request records newest first in a JSON array file.
type JSONAuditLog struct {
	mu      sync.Mutex
	path    string
	entries []models.RequestLog
}

func OpenJSONAuditLog(path string) (*JSONAuditLog, error) {
	a := &JSONAuditLog{path: path}
	if _, err := readJSON(path, &a.entries); err != nil {
		return nil, fmt.Errorf("error loading request log: %w", err)
	}
	return a, nil
}

func (a *JSONAuditLog) Record(ctx context.Context, entry models.RequestLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append([]models.RequestLog{entry}, a.entries...)
	return writeJSON(a.path, a.entries)
}

// Entries returns a copy of the records, newest first.
func (a *JSONAuditLog) Entries() []models.RequestLog {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]models.RequestLog(nil), a.entries...)
}

func (a *JSONAuditLog) Close() error {
	return nil
}
