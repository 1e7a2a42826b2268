package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Action tags understood by claimbridge contexts.
const (
	ActionStorePayload    = "store-payload"
	ActionLegacySubmit    = "legacy-submit"
	ActionContentReady    = "content-ready"
	ActionRequestPayload  = "request-payload"
	ActionFetchRemoteFile = "fetch-remote-file"
	ActionSaveSubmission  = "save-submission"
	ActionStartFlow       = "start-flow"

	// ActionDeliverPayload is pushed by the background to a tab.
	ActionDeliverPayload = "deliver-payload"
)

// SourceFrontend marks payloads that originated in the frontend/popup.
const SourceFrontend = "frontend"

// Message is the tagged record sent across a context boundary.
type Message struct {
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Source   string          `json:"source,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	URL      string          `json:"url,omitempty"`
	Filename string          `json:"filename,omitempty"`
	// AccessToken authorises a save-submission when the page had its own
	AccessToken string `json:"accessToken,omitempty"`
}

// Response is the single reply to a Message. Flags that must serialise as
// false are pointers so that "absent" and "false" stay distinguishable.
type Response struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	Stored         *bool  `json:"stored,omitempty"`
	HasPayload     *bool  `json:"hasPayload,omitempty"`
	RequiresManual *bool  `json:"requiresManual,omitempty"`
	Started        *bool  `json:"started,omitempty"`
	File           *File  `json:"file,omitempty"`
	Error          string `json:"error,omitempty"`
}

// File is a fetched resource in a form that survives serialisation.
type File struct {
	Name string    `json:"name"`
	Type string    `json:"type"`
	Data ByteArray `json:"data"`
	Size int       `json:"size"`
}

// ByteArray marshals as a JSON array of numbers rather than base64.
type ByteArray []byte

// MarshalJSON implements json.Marshaler.
func (b ByteArray) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}

	var sb strings.Builder
	sb.Grow(len(b)*4 + 2)
	sb.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	// encoding/json reads []byte as base64, so decode through []int.
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}

	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte array element %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Sender identifies the context a Message came from.
type Sender struct {
	// TabID is positive for messages sent by a tab's content script
	TabID int    `json:"tabId,omitempty"`
	URL   string `json:"url,omitempty"`
}

// HasTab reports whether the sender is a concrete tab that can be pushed to.
func (s Sender) HasTab() bool {
	return s.TabID > 0
}

// Handler answers Messages for one endpoint. Returning handled=false leaves
// the message unanswered.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message, sender Sender) (resp Response, handled bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message, sender Sender) (Response, bool)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message, sender Sender) (Response, bool) {
	return f(ctx, msg, sender)
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// OK returns a successful response carrying message.
func OK(message string) Response {
	return Response{Success: true, Message: message}
}

// Failure returns an unsuccessful response carrying err.
func Failure(err string) Response {
	return Response{Success: false, Error: err}
}
