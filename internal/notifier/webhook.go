package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// maxResponseBytes caps how much of a robot reply is read.
const maxResponseBytes = 64 << 10

// webhookReply is the acknowledgement shape shared by DingTalk and WeCom.
type webhookReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type webhookClient struct {
	channel    monitor.Channel
	url        string
	httpClient *http.Client
	now        func() time.Time
}

func newWebhookClient(channel monitor.Channel, rawURL string, opts Options) *webhookClient {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &webhookClient{channel: channel, url: rawURL, httpClient: client, now: now}
}

// post sends payload as JSON to target and checks the robot acknowledgement.
func (c *webhookClient) post(ctx context.Context, target string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &NotifyError{Channel: c.channel, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return &NotifyError{Channel: c.channel, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotifyError{Channel: c.channel, Err: fmt.Errorf("send: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NotifyError{Channel: c.channel, StatusCode: resp.StatusCode, Err: fmt.Errorf("read reply: %w", err)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &NotifyError{Channel: c.channel, StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var reply webhookReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return &NotifyError{Channel: c.channel, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode reply: %w", err)}
	}
	if reply.ErrCode != 0 {
		return &NotifyError{
			Channel:    c.channel,
			StatusCode: resp.StatusCode,
			ErrCode:    reply.ErrCode,
			Message:    reply.ErrMsg,
		}
	}
	return nil
}
