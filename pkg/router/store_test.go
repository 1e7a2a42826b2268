package router

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadStore_TakeDoesNotClear(t *testing.T) {
	s := NewPayloadStore()
	s.Put(json.RawMessage(`{"a":1}`), "frontend")

	d, ok := s.TakeFor(7)
	require.True(t, ok)
	assert.Equal(t, 7, d.TabID)
	assert.JSONEq(t, `{"a":1}`, string(d.Payload))

	pending, storedAt := s.Pending()
	assert.True(t, pending)
	assert.False(t, storedAt.IsZero())

	assert.True(t, s.Confirm(d))
	_, ok = s.TakeFor(7)
	assert.False(t, ok)
}

func TestPayloadStore_ConfirmIgnoresNewerPayload(t *testing.T) {
	s := NewPayloadStore()
	s.Put(json.RawMessage(`{"n":1}`), "frontend")
	d, _ := s.TakeFor(1)

	s.Put(json.RawMessage(`{"n":2}`), "frontend")
	assert.False(t, s.Confirm(d))

	current, ok := s.TakeFor(1)
	require.True(t, ok)
	assert.JSONEq(t, `{"n":2}`, string(current.Payload))
}

func TestPayloadStore_SecondConfirmIsNoop(t *testing.T) {
	s := NewPayloadStore()
	s.Put(json.RawMessage(`{}`), "")
	d, _ := s.TakeFor(1)

	assert.True(t, s.Confirm(d))
	assert.False(t, s.Confirm(d))
}

func TestPayloadStore_ScheduleClear(t *testing.T) {
	s := NewPayloadStore()
	s.Put(json.RawMessage(`{}`), "")

	done := make(chan bool, 1)
	s.ScheduleClear(20*time.Millisecond, func(cleared bool) { done <- cleared })

	select {
	case cleared := <-done:
		assert.True(t, cleared)
	case <-time.After(time.Second):
		t.Fatal("scheduled clear never fired")
	}

	pending, _ := s.Pending()
	assert.False(t, pending)
}

func TestPayloadStore_StopCancelsTimers(t *testing.T) {
	s := NewPayloadStore()
	s.Put(json.RawMessage(`{}`), "")
	s.ScheduleClear(20*time.Millisecond, nil)
	s.Stop()

	time.Sleep(60 * time.Millisecond)
	pending, _ := s.Pending()
	assert.True(t, pending)
}

func TestInferMIMEType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		filename    string
		urlPath     string
		want        string
	}{
		{"header wins", "image/png", "x.pdf", "/x.pdf", "image/png"},
		{"header parameters stripped", "text/plain; charset=utf-8", "", "", "text/plain"},
		{"octet-stream falls back to filename", "application/octet-stream", "scan.JPG", "", "image/jpeg"},
		{"url path fallback", "", "", "/docs/form.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"unknown", "", "blob", "/blob", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferMIMEType(tt.contentType, tt.filename, tt.urlPath))
		})
	}
}
