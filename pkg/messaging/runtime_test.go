package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, msg Message, sender Sender) (Response, bool) {
		if msg.Action == "unknown" {
			return Response{}, false
		}
		return OK(msg.Action), true
	})
}

func TestRuntime_SendMessageToBackground(t *testing.T) {
	rt := NewRuntime(nil)
	var seen Sender
	stop, err := rt.ListenBackground(HandlerFunc(func(ctx context.Context, msg Message, sender Sender) (Response, bool) {
		seen = sender
		return OK("pong"), true
	}))
	require.NoError(t, err)
	defer stop()

	resp, err := rt.SendMessage(context.Background(), Sender{TabID: 7, URL: "https://portal.example.gov/login"}, Message{Action: "ping"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)
	assert.Equal(t, 7, seen.TabID)
	assert.True(t, seen.HasTab())
}

func TestRuntime_UnhandledActionClosesChannel(t *testing.T) {
	rt := NewRuntime(nil)
	stop, err := rt.ListenBackground(echoHandler())
	require.NoError(t, err)
	defer stop()

	_, err = rt.SendMessage(context.Background(), Sender{}, Message{Action: "unknown"})
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestRuntime_NoReceiver(t *testing.T) {
	rt := NewRuntime(nil)

	_, err := rt.SendMessage(context.Background(), Sender{}, Message{Action: "ping"})
	assert.ErrorIs(t, err, ErrNoReceiver)

	_, err = rt.SendToTab(context.Background(), 3, Message{Action: ActionDeliverPayload})
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestRuntime_TabListenerLifecycle(t *testing.T) {
	rt := NewRuntime(nil)

	stop, err := rt.ListenTab(4, echoHandler())
	require.NoError(t, err)

	_, err = rt.ListenTab(4, echoHandler())
	assert.ErrorIs(t, err, ErrListenerExists)
	assert.Equal(t, []int{4}, rt.Tabs())

	resp, err := rt.SendToTab(context.Background(), 4, Message{Action: ActionDeliverPayload})
	require.NoError(t, err)
	assert.Equal(t, ActionDeliverPayload, resp.Message)

	stop()
	assert.Empty(t, rt.Tabs())

	_, err = rt.SendToTab(context.Background(), 4, Message{Action: ActionDeliverPayload})
	assert.ErrorIs(t, err, ErrNoReceiver)

	_, err = rt.ListenTab(0, echoHandler())
	assert.Error(t, err)
}

func TestRuntime_AsyncHandlerKeepsReplyOpen(t *testing.T) {
	rt := NewRuntime(nil)
	release := make(chan struct{})
	stop, err := rt.ListenBackground(HandlerFunc(func(ctx context.Context, msg Message, sender Sender) (Response, bool) {
		if msg.Action == "slow" {
			<-release
			return OK("slow done"), true
		}
		return OK("fast done"), true
	}))
	require.NoError(t, err)
	defer stop()

	slowDone := make(chan Response, 1)
	go func() {
		resp, _ := rt.SendMessage(context.Background(), Sender{}, Message{Action: "slow"})
		slowDone <- resp
	}()

	// A slow handler must not block other messages.
	resp, err := rt.SendMessage(context.Background(), Sender{}, Message{Action: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "fast done", resp.Message)

	select {
	case <-slowDone:
		t.Fatal("slow message answered before its work finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case resp := <-slowDone:
		assert.Equal(t, "slow done", resp.Message)
	case <-time.After(time.Second):
		t.Fatal("slow message never answered")
	}
}

func TestRuntime_ExactlyOneResponse(t *testing.T) {
	rt := NewRuntime(nil)
	var calls atomic.Int32
	stop, err := rt.ListenBackground(HandlerFunc(func(ctx context.Context, msg Message, sender Sender) (Response, bool) {
		calls.Add(1)
		return OK(""), true
	}))
	require.NoError(t, err)
	defer stop()

	for i := 0; i < 25; i++ {
		_, err := rt.SendMessage(context.Background(), Sender{}, Message{Action: "ping"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(25), calls.Load())
}

func TestRuntime_ContextCancelled(t *testing.T) {
	rt := NewRuntime(nil)
	stop, err := rt.ListenBackground(HandlerFunc(func(ctx context.Context, msg Message, sender Sender) (Response, bool) {
		<-ctx.Done()
		return Response{}, false
	}))
	require.NoError(t, err)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = rt.SendMessage(ctx, Sender{}, Message{Action: "ping"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestByteArray_JSON(t *testing.T) {
	file := File{Name: "a.png", Type: "image/png", Data: ByteArray{0, 137, 255}, Size: 3}

	data, err := json.Marshal(file)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a.png","type":"image/png","data":[0,137,255],"size":3}`, string(data))

	var decoded File
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, file, decoded)
}

func TestByteArray_RejectsOutOfRange(t *testing.T) {
	for _, raw := range []string{`[1,300]`, `[-1]`, `[256]`} {
		var b ByteArray
		err := json.Unmarshal([]byte(raw), &b)
		assert.Error(t, err, raw)
		assert.Nil(t, b, raw)
	}

	var edge ByteArray
	require.NoError(t, json.Unmarshal([]byte(`[0,255]`), &edge))
	assert.Equal(t, ByteArray{0, 255}, edge)
}

func TestMessage_AccessTokenSerialises(t *testing.T) {
	data, err := json.Marshal(Message{Action: ActionSaveSubmission, AccessToken: "tok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"save-submission","accessToken":"tok"}`, string(data))
}

func TestResponse_FalseFlagsSerialise(t *testing.T) {
	data, err := json.Marshal(Response{Success: true, Message: "none", HasPayload: Bool(false)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"message":"none","hasPayload":false}`, string(data))
}
