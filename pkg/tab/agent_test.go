package tab

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/claimbridge/pkg/logging"
	"github.com/entrhq/claimbridge/pkg/messaging"
	"github.com/entrhq/claimbridge/pkg/orchestrator"
	pt "github.com/entrhq/claimbridge/pkg/probe/probetest"
	"github.com/entrhq/claimbridge/pkg/router"
	"github.com/entrhq/claimbridge/pkg/submission"
)

const documentsURL = "https://portal.example.gov/documents"

type recordingSaver struct {
	mu     sync.Mutex
	saved  []json.RawMessage
	tokens []string
}

func (s *recordingSaver) SaveWith(ctx context.Context, data json.RawMessage, opts submission.SaveOptions) submission.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, data)
	s.tokens = append(s.tokens, opts.AccessToken)
	return submission.Result{Success: true}
}

func (s *recordingSaver) usedTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *recordingSaver) records() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.saved...)
}

// syncBuffer is a bytes.Buffer safe for the agent's background goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	rt     *messaging.Runtime
	router *router.Router
	saver  *recordingSaver
	page   *pt.Page
	upload *pt.Node
	logs   *syncBuffer
}

func newHarness(t *testing.T, pageURL string) *harness {
	t.Helper()
	saver := &recordingSaver{}
	h := newHarnessWithSaver(t, pageURL, saver)
	h.saver = saver
	return h
}

func newHarnessWithSaver(t *testing.T, pageURL string, saver router.Saver) *harness {
	t.Helper()

	rt := messaging.NewRuntime(nil)
	r := router.New(router.NewPayloadStore(), rt, saver, router.NewFetcher(time.Second, 1024),
		router.Options{DeliveryDelay: 5 * time.Millisecond, FallbackClear: time.Second}, nil)
	stop, err := rt.ListenBackground(r)
	require.NoError(t, err)
	t.Cleanup(func() {
		stop()
		r.Close()
	})

	upload := pt.El("input", []string{"type", "file"})
	page := pt.NewPage(pageURL, pt.El("body", nil,
		pt.Text("h1", "Upload supporting documents"),
		pt.Text("p", "Application APP-77"),
		pt.El("form", nil, upload),
	))

	return &harness{rt: rt, router: r, page: page, upload: upload, logs: &syncBuffer{}}
}

func (h *harness) agent(t *testing.T, opts Options) *Agent {
	t.Helper()

	script := orchestrator.DefaultScript()
	script.Documents.MinBytes = 500
	script.Documents.MinSide = 16
	if opts.Script == nil {
		opts.Script = script
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	}
	opts.Now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	opts.Logger = logging.NewWriterLogger("tab", h.logs)

	a := New(7, h.rt, h.page, opts)
	t.Cleanup(a.Close)
	return a
}

func (h *harness) store(t *testing.T, payload string) {
	t.Helper()
	resp, err := h.rt.SendMessage(context.Background(), messaging.Sender{}, messaging.Message{
		Action:  messaging.ActionStorePayload,
		Payload: json.RawMessage(payload),
		Source:  messaging.SourceFrontend,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func (h *harness) startFlow(t *testing.T) messaging.Response {
	t.Helper()
	resp, err := h.rt.SendToTab(context.Background(), 7, messaging.Message{Action: messaging.ActionStartFlow})
	require.NoError(t, err)
	return resp
}

func TestAgent_StartReceivesPendingPayload(t *testing.T) {
	h := newHarness(t, documentsURL)
	h.store(t, `{"case_id":"C-9"}`)
	a := h.agent(t, Options{})

	resp, err := a.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Payload delivery scheduled", resp.Message)

	assert.Eventually(t, func() bool { return a.Payload() != nil }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"case_id":"C-9"}`, string(a.Payload()))
	assert.Eventually(t, func() bool {
		pending, _ := h.router.Store().Pending()
		return !pending
	}, time.Second, 5*time.Millisecond)
}

func TestAgent_RequestPayload(t *testing.T) {
	h := newHarness(t, documentsURL)
	a := h.agent(t, Options{})
	_, err := a.Start(context.Background())
	require.NoError(t, err)

	has, err := a.RequestPayload(context.Background())
	require.NoError(t, err)
	assert.False(t, has)

	h.store(t, `{"firstName":"A"}`)
	has, err = a.RequestPayload(context.Background())
	require.NoError(t, err)
	assert.True(t, has)
	assert.JSONEq(t, `{"firstName":"A"}`, string(a.Payload()))
}

func TestAgent_StartFlowSavesSubmission(t *testing.T) {
	h := newHarness(t, documentsURL)
	h.store(t, `{"user_id":42,"caseId":"C-9","applicationNumber":"APP-77","accessToken":"tok"}`)
	a := h.agent(t, Options{})
	_, err := a.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.Payload() != nil }, time.Second, 5*time.Millisecond)

	resp := h.startFlow(t)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Started)
	assert.True(t, *resp.Started)

	a.Wait()

	report, ok := a.LastReport()
	require.True(t, ok)
	assert.True(t, report.Completed)
	assert.True(t, report.Attached)
	assert.Len(t, h.upload.Files(), 1)

	saved := h.saver.records()
	require.Len(t, saved, 1)

	var record submission.Record
	require.NoError(t, json.Unmarshal(saved[0], &record))
	assert.JSONEq(t, `42`, string(record.UserID))
	assert.JSONEq(t, `"C-9"`, string(record.CaseID))
	assert.Equal(t, "APP-77", record.ApplicationNumber)
	assert.Equal(t, "Upload supporting documents\nApplication APP-77", record.PageContent)
	assert.Equal(t, "2026-03-04T05:06:07Z", record.SubmittedAt)
	assert.Equal(t, []string{"tok"}, h.saver.usedTokens())
}

func TestAgent_PayloadTokenReachesBackend(t *testing.T) {
	var (
		mu      sync.Mutex
		headers []string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	service := submission.NewService(submission.Options{
		Endpoint: backend.URL,
		Sleep:    func(ctx context.Context, d time.Duration) error { return nil },
	})
	h := newHarnessWithSaver(t, documentsURL, service)
	h.store(t, `{"caseId":"C-9","accessToken":"payload-tok"}`)
	a := h.agent(t, Options{})
	_, err := a.Start(context.Background())
	require.NoError(t, err)
	_, err = a.RequestPayload(context.Background())
	require.NoError(t, err)

	h.startFlow(t)
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer payload-tok"}, headers)
}

func TestAgent_ConfiguredTokenReachesBackend(t *testing.T) {
	got := make(chan string, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
	}))
	defer backend.Close()

	service := submission.NewService(submission.Options{Endpoint: backend.URL, AccessToken: "background-tok"})
	h := newHarnessWithSaver(t, documentsURL, service)
	h.store(t, `{"caseId":"C-9"}`)
	a := h.agent(t, Options{AccessToken: "tab-tok"})
	_, err := a.Start(context.Background())
	require.NoError(t, err)
	_, err = a.RequestPayload(context.Background())
	require.NoError(t, err)

	h.startFlow(t)
	a.Wait()

	select {
	case header := <-got:
		assert.Equal(t, "Bearer tab-tok", header, "the tab's token wins over the background default")
	default:
		t.Fatal("backend was not called")
	}
}

func TestAgent_MissingCaseIDAbandonsSave(t *testing.T) {
	h := newHarness(t, documentsURL)
	a := h.agent(t, Options{AccessToken: "configured"})
	_, err := a.Start(context.Background())
	require.NoError(t, err)

	h.store(t, `{"case_id":null}`)
	_, err = a.RequestPayload(context.Background())
	require.NoError(t, err)

	h.startFlow(t)
	a.Wait()

	assert.Empty(t, h.saver.records())
	assert.Contains(t, h.logs.String(), "[ERROR]")
	assert.Contains(t, h.logs.String(), ErrNoCaseID.Error())
}

func TestAgent_MissingAccessTokenAbandonsSave(t *testing.T) {
	h := newHarness(t, documentsURL)
	a := h.agent(t, Options{})
	_, err := a.Start(context.Background())
	require.NoError(t, err)

	h.store(t, `{"case_id":"C-1"}`)
	_, err = a.RequestPayload(context.Background())
	require.NoError(t, err)

	h.startFlow(t)
	a.Wait()

	assert.Empty(t, h.saver.records())
	assert.Contains(t, h.logs.String(), ErrNoAccessToken.Error())
}

func TestAgent_ConfiguredTokenIsEnough(t *testing.T) {
	h := newHarness(t, documentsURL)
	a := h.agent(t, Options{AccessToken: "configured"})

	err := a.Submit(context.Background(), json.RawMessage(`{"case_id":17}`))
	require.NoError(t, err)

	saved := h.saver.records()
	require.Len(t, saved, 1)
	var record submission.Record
	require.NoError(t, json.Unmarshal(saved[0], &record))
	assert.JSONEq(t, `17`, string(record.CaseID))
	assert.Contains(t, string(saved[0]), `"user_id":null`)
	assert.Equal(t, []string{"configured"}, h.saver.usedTokens())
}

func TestAgent_NoSaveOutsideDocumentsRoute(t *testing.T) {
	h := newHarness(t, "https://portal.example.gov/home")
	h.store(t, `{"case_id":"C-1","accessToken":"tok"}`)
	a := h.agent(t, Options{})
	_, err := a.Start(context.Background())
	require.NoError(t, err)

	h.startFlow(t)
	a.Wait()

	report, ok := a.LastReport()
	require.True(t, ok)
	assert.Empty(t, report.Stages)
	assert.Empty(t, h.saver.records())
}

func TestAgent_StartFlowOncePerTrigger(t *testing.T) {
	h := newHarness(t, documentsURL)
	release := make(chan struct{})
	a := h.agent(t, Options{Sleep: func(ctx context.Context, d time.Duration) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}})
	_, err := a.Start(context.Background())
	require.NoError(t, err)

	first := h.startFlow(t)
	second := h.startFlow(t)
	require.NotNil(t, first.Started)
	require.NotNil(t, second.Started)
	assert.True(t, *first.Started)
	assert.False(t, *second.Started)

	close(release)
	a.Wait()

	third := h.startFlow(t)
	require.NotNil(t, third.Started)
	assert.True(t, *third.Started)
	a.Wait()
	assert.Len(t, h.upload.Files(), 1)
}

func TestAgent_IgnoresUnknownActions(t *testing.T) {
	h := newHarness(t, documentsURL)
	a := h.agent(t, Options{})
	_, err := a.Start(context.Background())
	require.NoError(t, err)

	_, err = h.rt.SendToTab(context.Background(), 7, messaging.Message{Action: "bogus"})
	assert.ErrorIs(t, err, messaging.ErrNoResponse)
}
