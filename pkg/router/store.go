package router

import (
	"encoding/json"
	"sync"
	"time"
)

// Delivery is a payload handed out for one destination tab. Confirming it
// clears the store unless a newer payload was stored in the meantime.
type Delivery struct {
	Payload    json.RawMessage
	TabID      int
	generation uint64
}

// PayloadStore holds at most one pending payload. A later Put always
// replaces an earlier one.
type PayloadStore struct {
	mu         sync.Mutex
	payload    json.RawMessage
	source     string
	storedAt   time.Time
	generation uint64
	timers     []*time.Timer
}

// NewPayloadStore creates an empty store.
func NewPayloadStore() *PayloadStore {
	return &PayloadStore{}
}

// Put stores payload, replacing any pending one.
func (s *PayloadStore) Put(payload json.RawMessage, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payload = append(json.RawMessage(nil), payload...)
	s.source = source
	s.storedAt = time.Now()
	s.generation++
}

// TakeFor returns the pending payload for delivery to tabID without
// removing it. The payload stays available until Confirm or Clear.
func (s *PayloadStore) TakeFor(tabID int) (Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.payload == nil {
		return Delivery{}, false
	}
	return Delivery{
		Payload:    append(json.RawMessage(nil), s.payload...),
		TabID:      tabID,
		generation: s.generation,
	}, true
}

// Confirm clears the store after d was delivered. It reports whether the
// store was cleared; a payload stored after d was taken is left alone.
func (s *PayloadStore) Confirm(d Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.payload == nil || s.generation != d.generation {
		return false
	}
	s.clearLocked()
	return true
}

// Clear drops the pending payload, if any.
func (s *PayloadStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *PayloadStore) clearLocked() {
	s.payload = nil
	s.source = ""
	s.storedAt = time.Time{}
}

// ScheduleClear clears the store unconditionally after d.
func (s *PayloadStore) ScheduleClear(d time.Duration, onClear func(cleared bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		cleared := s.payload != nil
		s.clearLocked()
		s.forgetTimerLocked(timer)
		s.mu.Unlock()

		if onClear != nil {
			onClear(cleared)
		}
	})
	s.timers = append(s.timers, timer)
}

func (s *PayloadStore) forgetTimerLocked(t *time.Timer) {
	for i, existing := range s.timers {
		if existing == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

// Pending reports whether a payload is waiting, and since when.
func (s *PayloadStore) Pending() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload != nil, s.storedAt
}

// Stop cancels every scheduled clear.
func (s *PayloadStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}
