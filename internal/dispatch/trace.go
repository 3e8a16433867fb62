package dispatch

import (
	"fmt"
	"sync"
)

// Trace is the ordered why-trace collected while resolving one inbound
// message. Single goroutine per dispatch, no locking.
type Trace struct {
	steps []string
}

func (t *Trace) Addf(format string, args ...any) {
	t.steps = append(t.steps, fmt.Sprintf(format, args...))
}

// Steps returns the recorded steps in order.
func (t *Trace) Steps() []string {
	return t.steps
}

// ExplanationRecord is what the assistant remembers about one of its own
// outbound messages.
type ExplanationRecord struct {
	MessageID  string
	ChannelKey string
	Why        string
	Trace      []string
}

// maxExplanations bounds the store; oldest records are dropped first.
// Memory only, so a restart forgets everything.
const maxExplanations = 4096

// ExplanationStore maps outbound message IDs to their provenance and
// remembers the latest assistant message per channel for bare "why did
// you say that" queries.
type ExplanationStore struct {
	mu     sync.Mutex
	byID   map[string]ExplanationRecord
	order  []string
	latest map[string]string
}

func NewExplanationStore() *ExplanationStore {
	return &ExplanationStore{
		byID:   make(map[string]ExplanationRecord),
		latest: make(map[string]string),
	}
}

// Record stores provenance for a sent message and marks it the latest in
// its channel.
func (s *ExplanationStore) Record(rec ExplanationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.MessageID]; !exists {
		s.order = append(s.order, rec.MessageID)
		if len(s.order) > maxExplanations {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.byID, oldest)
		}
	}
	s.byID[rec.MessageID] = rec
	s.latest[rec.ChannelKey] = rec.MessageID
}

// Lookup finds the record for a specific message ID.
func (s *ExplanationStore) Lookup(messageID string) (ExplanationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[messageID]
	return rec, ok
}

// Latest finds the record for the assistant's most recent message in a
// channel.
func (s *ExplanationStore) Latest(channelKey string) (ExplanationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.latest[channelKey]
	if !ok {
		return ExplanationRecord{}, false
	}
	rec, ok := s.byID[id]
	return rec, ok
}
