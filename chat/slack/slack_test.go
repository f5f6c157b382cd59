package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/runbridge/core"
)

type recordedCall struct {
	Method  string
	Auth    string
	Payload map[string]any
}

func newTestClient(t *testing.T, respond func(method string) any) (*Client, *[]recordedCall) {
	t.Helper()

	var mu sync.Mutex
	var calls []recordedCall

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		method := r.URL.Path[1:]

		mu.Lock()
		calls = append(calls, recordedCall{
			Method:  method,
			Auth:    r.Header.Get("Authorization"),
			Payload: payload,
		})
		mu.Unlock()

		require.NoError(t, json.NewEncoder(w).Encode(respond(method)))
	}))

	t.Cleanup(srv.Close)

	client := New("xoxb-test", func(o *Options) {
		o.BaseURL = srv.URL
	})

	return client, &calls
}

func okWithTS(ts string) func(string) any {
	return func(string) any {
		return map[string]any{"ok": true, "ts": ts}
	}
}

func TestPostMessage(t *testing.T) {
	client, calls := newTestClient(t, okWithTS("111.222"))

	ref, err := client.PostMessage(context.Background(), core.Message{
		ChannelID: "C1",
		ThreadRef: "99.00",
		Text:      "hello",
		Buttons:   []core.Button{{ActionID: "approve", Label: "Yes", Value: "run-1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "111.222", ref)

	require.Len(t, *calls, 1)
	call := (*calls)[0]

	assert.Equal(t, "chat.postMessage", call.Method)
	assert.Equal(t, "Bearer xoxb-test", call.Auth)
	assert.Equal(t, "C1", call.Payload["channel"])
	assert.Equal(t, "99.00", call.Payload["thread_ts"])
	assert.Equal(t, "hello", call.Payload["text"])
	assert.NotNil(t, call.Payload["blocks"])
}

func TestPostMessageAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(string) any {
		return map[string]any{"ok": false, "error": "channel_not_found"}
	})

	_, err := client.PostMessage(context.Background(), core.Message{ChannelID: "C1", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestUpdateMessageStripsButtons(t *testing.T) {
	client, calls := newTestClient(t, okWithTS("1.2"))

	err := client.UpdateMessage(context.Background(), "C1", "1.2", core.Message{Text: "approved"})
	require.NoError(t, err)

	call := (*calls)[0]
	assert.Equal(t, "chat.update", call.Method)
	assert.Equal(t, "1.2", call.Payload["ts"])

	// The replacement blocks carry only the text section, no actions.
	blocks, ok := call.Payload["blocks"].([]any)
	require.True(t, ok)
	require.Len(t, blocks, 1)
	section := blocks[0].(map[string]any)
	assert.Equal(t, "section", section["type"])
}

func TestStreamLifecycle(t *testing.T) {
	client, calls := newTestClient(t, okWithTS("7.7"))

	ctx := context.Background()

	ref, err := client.StartStream(ctx, "C1", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "7.7", ref)

	require.NoError(t, client.AppendStream(ctx, "C1", ref, "chunk one"))
	require.NoError(t, client.StopStream(ctx, "C1", ref, "the full text"))
	require.NoError(t, client.StopStream(ctx, "C1", ref, ""))

	require.Len(t, *calls, 4)

	assert.Equal(t, "chat.startStream", (*calls)[0].Method)
	assert.Equal(t, "1.0", (*calls)[0].Payload["thread_ts"])

	assert.Equal(t, "chat.appendStream", (*calls)[1].Method)
	assert.Equal(t, "chunk one", (*calls)[1].Payload["markdown_text"])

	assert.Equal(t, "chat.stopStream", (*calls)[2].Method)
	assert.Equal(t, "the full text", (*calls)[2].Payload["markdown_text"])

	// Stopping without final text omits the field entirely.
	_, hasText := (*calls)[3].Payload["markdown_text"]
	assert.False(t, hasText)
}

func TestPostEphemeral(t *testing.T) {
	client, calls := newTestClient(t, func(string) any {
		return map[string]any{"ok": true}
	})

	require.NoError(t, client.PostEphemeral(context.Background(), "C1", "U1", "psst"))

	call := (*calls)[0]
	assert.Equal(t, "chat.postEphemeral", call.Method)
	assert.Equal(t, "U1", call.Payload["user"])
	assert.Equal(t, "psst", call.Payload["text"])
}
