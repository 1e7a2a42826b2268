package probe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/claimbridge/pkg/probe"
	pt "github.com/entrhq/claimbridge/pkg/probe/probetest"
)

func loginForm() *pt.Node {
	return pt.El("body", nil,
		pt.El("form", []string{"id", "search"}, pt.Text("button", "Search")),
		pt.El("form", []string{"id", "login"},
			pt.Text("h2", "Sign in to   your\n account"),
			pt.Text("label", "Email address", "for", "email"),
			pt.El("input", []string{"id", "email", "type", "text"}),
			pt.El("label", nil,
				pt.Text("span", "I agree to the terms"),
				pt.El("input", []string{"type", "checkbox"}),
			),
			pt.Text("button", "Log in"),
		),
	)
}

func TestFindByText(t *testing.T) {
	body := loginForm()

	form, ok := probe.FindByText(body, "form", "Sign in to your account")
	require.True(t, ok, "whitespace in markup must not affect matching")
	id, _ := form.Attribute("id")
	assert.Equal(t, "login", id)

	_, ok = probe.FindByText(body, "form", "sign in")
	assert.False(t, ok, "matching is case-sensitive")

	_, ok = probe.FindByText(body, "button", "Register")
	assert.False(t, ok)

	_, ok = probe.FindByText(nil, "form", "x")
	assert.False(t, ok)
}

func TestFindByTextAny(t *testing.T) {
	body := loginForm()

	el, ok := probe.FindByTextAny(body, []string{"a", "button"}, "Log in")
	require.True(t, ok)
	text, _ := el.Text()
	assert.Equal(t, "Log in", text)
}

func TestFindControlByLabel(t *testing.T) {
	body := loginForm()

	byFor, ok := probe.FindControlByLabel(body, "Email address")
	require.True(t, ok)
	id, _ := byFor.Attribute("id")
	assert.Equal(t, "email", id)

	nested, ok := probe.FindControlByLabel(body, "I agree")
	require.True(t, ok)
	kind, _ := nested.Attribute("type")
	assert.Equal(t, "checkbox", kind)

	_, ok = probe.FindControlByLabel(body, "Phone")
	assert.False(t, ok)
}

func TestTypeText(t *testing.T) {
	field := pt.El("input", []string{"type", "text"})
	require.NoError(t, field.SetValue("stale"))

	var sleeps []time.Duration
	opts := probe.TypingOptions{
		CharDelay:   5 * time.Millisecond,
		SettleDelay: 50 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}

	require.NoError(t, probe.TypeText(context.Background(), field, "Jé1", opts))

	assert.Equal(t, "Jé1", field.Value())
	assert.Equal(t, []string{"input", "input", "input", "blur"}, field.Events())
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond, 50 * time.Millisecond}, sleeps)
}

func TestTypeText_Cancelled(t *testing.T) {
	field := pt.El("input", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := probe.TypeText(ctx, field, "abc", probe.TypingOptions{CharDelay: time.Millisecond})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "a", field.Value())
}

func TestClick_FallsBackToSyntheticEvent(t *testing.T) {
	direct := pt.Text("button", "Next")
	require.NoError(t, probe.Click(direct))
	assert.Equal(t, 1, direct.Clicks())
	assert.Empty(t, direct.Events())

	blocked := pt.Text("button", "Next")
	blocked.ClickErr = errors.New("element is not attached")
	require.NoError(t, probe.Click(blocked))
	assert.Equal(t, 0, blocked.Clicks())
	assert.Equal(t, []string{"click"}, blocked.Events())
	assert.True(t, blocked.Activated())
}

func TestAttachFile(t *testing.T) {
	file := probe.File{Name: "scan.png", MimeType: "image/png", Data: []byte{1, 2, 3}}

	input := pt.El("input", []string{"type", "file"})
	require.NoError(t, probe.AttachFile(input, file))
	assert.Equal(t, []probe.File{file}, input.Files())
	assert.Equal(t, []string{"change"}, input.Events())

	text := pt.El("input", []string{"type", "text"})
	assert.ErrorIs(t, probe.AttachFile(text, file), probe.ErrNotFileInput)
	assert.Empty(t, text.Files())

	assert.ErrorIs(t, probe.AttachFile(nil, file), probe.ErrNotFileInput)
}

func TestFirst(t *testing.T) {
	body := pt.El("body", nil,
		pt.El("input", []string{"id", "a", "type", "text"}),
		pt.El("input", []string{"id", "upload", "type", "file"}),
	)

	el, ok := probe.First(body, `input[type="file"]`)
	require.True(t, ok)
	id, _ := el.Attribute("id")
	assert.Equal(t, "upload", id)

	_, ok = probe.First(body, "#missing")
	assert.False(t, ok)
}
