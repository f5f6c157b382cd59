// Package slack implements core.Messenger against the Slack Web API,
// including the incremental streaming message endpoints used for live plan
// and report delivery.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/runbridge/core"
)

const defaultBaseURL = "https://slack.com/api"

// Options configure the Slack client.
type Options struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// HTTPClient overrides the underlying transport.
	HTTPClient *http.Client
}

// Client is a minimal Slack Web API client covering the message surface the
// bridge drives. Safe for concurrent use.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

var _ core.Messenger = (*Client)(nil)

// New creates a Slack client authenticating with the given bot token.
func New(token string, optFns ...func(o *Options)) *Client {
	opts := Options{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{token: token, baseURL: opts.BaseURL, http: opts.HTTPClient}
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// PostMessage implements core.Messenger.
func (c *Client) PostMessage(ctx context.Context, msg core.Message) (string, error) {
	payload := map[string]any{
		"channel": msg.ChannelID,
		"text":    msg.Text,
	}
	if msg.ThreadRef != "" {
		payload["thread_ts"] = msg.ThreadRef
	}
	if len(msg.Buttons) > 0 {
		payload["blocks"] = buildBlocks(msg)
	}
	res, err := c.call(ctx, "chat.postMessage", payload)
	if err != nil {
		return "", err
	}
	if res.TS == "" {
		return "", fmt.Errorf("chat.postMessage: missing message ts in response")
	}
	return res.TS, nil
}

// UpdateMessage implements core.Messenger.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ref string, msg core.Message) error {
	payload := map[string]any{
		"channel": channelID,
		"ts":      ref,
		"text":    msg.Text,
		// Replacing blocks with an empty list strips stale action buttons.
		"blocks": buildBlocks(msg),
	}
	_, err := c.call(ctx, "chat.update", payload)
	return err
}

// PostEphemeral implements core.Messenger.
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	payload := map[string]any{
		"channel": channelID,
		"user":    userID,
		"text":    text,
	}
	_, err := c.call(ctx, "chat.postEphemeral", payload)
	return err
}

// StartStream implements core.Messenger.
func (c *Client) StartStream(ctx context.Context, channelID, threadRef string) (string, error) {
	payload := map[string]any{
		"channel": channelID,
	}
	if threadRef != "" {
		payload["thread_ts"] = threadRef
	}
	res, err := c.call(ctx, "chat.startStream", payload)
	if err != nil {
		return "", err
	}
	if res.TS == "" {
		return "", fmt.Errorf("chat.startStream: missing stream ts in response")
	}
	return res.TS, nil
}

// AppendStream implements core.Messenger.
func (c *Client) AppendStream(ctx context.Context, channelID, ref, text string) error {
	payload := map[string]any{
		"channel":       channelID,
		"ts":            ref,
		"markdown_text": text,
	}
	_, err := c.call(ctx, "chat.appendStream", payload)
	return err
}

// StopStream implements core.Messenger.
func (c *Client) StopStream(ctx context.Context, channelID, ref, finalText string) error {
	payload := map[string]any{
		"channel": channelID,
		"ts":      ref,
	}
	if finalText != "" {
		payload["markdown_text"] = finalText
	}
	_, err := c.call(ctx, "chat.stopStream", payload)
	return err
}

func (c *Client) call(ctx context.Context, method string, payload map[string]any) (*apiResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status=%d body=%s", method, res.StatusCode, string(body))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("%s: api error: %s", method, parsed.Error)
	}
	return &parsed, nil
}

// buildBlocks converts a message into Block Kit sections: one mrkdwn section
// for the text plus an actions block when buttons are present.
func buildBlocks(msg core.Message) []map[string]any {
	blocks := []map[string]any{}
	if msg.Text != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": msg.Text},
		})
	}
	if len(msg.Buttons) == 0 {
		return blocks
	}
	elements := make([]map[string]any, 0, len(msg.Buttons))
	for _, b := range msg.Buttons {
		el := map[string]any{
			"type":      "button",
			"action_id": b.ActionID,
			"text":      map[string]any{"type": "plain_text", "text": b.Label},
			"value":     b.Value,
		}
		if b.Style != "" {
			el["style"] = b.Style
		}
		elements = append(elements, el)
	}
	return append(blocks, map[string]any{"type": "actions", "elements": elements})
}
