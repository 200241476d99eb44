package storage

import (
	"fmt"
	"sync"

	"github.com/xaenox/wcf-bot/internal/models"
)

// MessageStore keeps every observed event in memory and mirrors the whole
// log to a JSON array file on each append. An empty path disables the file.
type MessageStore struct {
	mu       sync.RWMutex
	path     string
	messages []*models.Event
}

func NewMemoryStorage() *MessageStore {
	return &MessageStore{}
}

// OpenMessageStore loads the log at path, starting empty when the file does not exist.
func OpenMessageStore(path string) (*MessageStore, error) {
	s := &MessageStore{path: path}
	if path == "" {
		return s, nil
	}
	var loaded []*models.Event
	if _, err := readJSON(path, &loaded); err != nil {
		return nil, fmt.Errorf("error loading messages: %w", err)
	}
	for _, ev := range loaded {
		if ev != nil {
			s.messages = append(s.messages, ev)
		}
	}
	return s, nil
}

func (s *MessageStore) Append(ev *models.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, ev)
	pos := len(s.messages) - 1
	return pos, s.flushLocked()
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages)
}

func (s *MessageStore) Newest(before int, fn func(ev *models.Event) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if before > len(s.messages) {
		before = len(s.messages)
	}
	for i := before - 1; i >= 0; i-- {
		if !fn(s.messages[i]) {
			return
		}
	}
}

func (s *MessageStore) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.flushLocked()
}

func (s *MessageStore) flushLocked() error {
	if s.path == "" {
		return nil
	}
	out := s.messages
	if out == nil {
		out = []*models.Event{}
	}
	return writeJSON(s.path, out)
}

func (s *MessageStore) Close() error {
	return s.Flush()
}
