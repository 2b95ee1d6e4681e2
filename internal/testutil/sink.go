package testutil

import "sync"

// RecordingSink collects warnings in order. It is safe for concurrent use.
type RecordingSink struct {
	mu       sync.Mutex
	messages []string
}

// Warn records msg.
func (s *RecordingSink) Warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of the recorded warnings.
func (s *RecordingSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}
