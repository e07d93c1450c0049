package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"pairs_trader/internal/logging"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAlertChannel struct {
	name string
	mu   sync.Mutex
	sent []AlertPayload
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	return nil
}

func (m *mockAlertChannel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.ErrorLevel, io.Discard)
}

func TestAlertManagerFanOut(t *testing.T) {
	am := NewAlertManager(testLogger())

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}
	am.AddChannel(ch1)
	am.AddChannel(ch2)

	am.Alert(context.Background(), "Test Alert", "This is a test", Info, map[string]string{"key": "value"})

	require.Eventually(t, func() bool {
		return ch1.count() == 1 && ch2.count() == 1
	}, time.Second, 5*time.Millisecond)

	payload := ch1.getSent()[0]
	assert.Equal(t, "Test Alert", payload.Title)
	assert.Equal(t, Info, payload.Level)
	assert.Equal(t, "value", payload.Fields["key"])
}

func TestAlertManagerMinLevel(t *testing.T) {
	am := NewAlertManager(testLogger())
	ch := &mockAlertChannel{name: "mock"}
	am.AddChannel(ch)
	am.SetMinLevel(Error)

	am.Alert(context.Background(), "info", "below threshold", Info, nil)
	am.Alert(context.Background(), "warning", "below threshold", Warning, nil)
	am.Alert(context.Background(), "error", "at threshold", Error, nil)
	am.Alert(context.Background(), "critical", "above threshold", Critical, nil)

	require.Eventually(t, func() bool { return ch.count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, ch.count())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Warning, ParseLevel("WARNING"))
	assert.Equal(t, Critical, ParseLevel("CRITICAL"))
	assert.Equal(t, Info, ParseLevel(""))
	assert.Equal(t, Info, ParseLevel("bogus"))
}

func TestSlackChannelSend(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL)
	err := ch.Send(context.Background(), AlertPayload{
		Level:     Error,
		Title:     "Target failed",
		Message:   "alpha:AAA|beta:BBB",
		Timestamp: time.Now(),
		Fields:    map[string]string{"handle": "h-1"},
	})
	require.NoError(t, err)

	attachments, ok := got["attachments"].([]interface{})
	require.True(t, ok)
	require.Len(t, attachments, 1)
	attachment := attachments[0].(map[string]interface{})
	assert.Equal(t, "#ff0000", attachment["color"])
	assert.Equal(t, "[ERROR] Target failed", attachment["pretext"])
	assert.Equal(t, "Pairs Trader", attachment["footer"])
}

func TestSlackChannelErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL)
	err := ch.Send(context.Background(), AlertPayload{Level: Info, Title: "t", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 400")
}

func TestSlackChannelNoURL(t *testing.T) {
	ch := NewSlackChannel("")
	assert.NoError(t, ch.Send(context.Background(), AlertPayload{Level: Info}))
}

func TestTelegramChannelSend(t *testing.T) {
	var gotPath string
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	ch := NewTelegramChannel("bot-token", "chat-42")
	ch.apiBase = server.URL
	err := ch.Send(context.Background(), AlertPayload{
		Level:     Critical,
		Title:     "Fill inconsistency detected",
		Message:   "handle h-1",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-42", got["chat_id"])
	text, _ := got["text"].(string)
	assert.Contains(t, text, "[CRITICAL] Fill inconsistency detected")
}

func TestTelegramChannelUnconfigured(t *testing.T) {
	ch := NewTelegramChannel("", "")
	assert.NoError(t, ch.Send(context.Background(), AlertPayload{Level: Info}))
}
