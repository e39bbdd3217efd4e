package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// DingTalk posts to a DingTalk custom robot.
type DingTalk struct {
	client *webhookClient
	secret string
}

type dingTalkAt struct {
	AtMobiles []string `json:"atMobiles"`
	IsAtAll   bool     `json:"isAtAll"`
}

type dingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type dingTalkText struct {
	Content string `json:"content"`
}

type dingTalkPayload struct {
	MsgType  string            `json:"msgtype"`
	Markdown *dingTalkMarkdown `json:"markdown,omitempty"`
	Text     *dingTalkText     `json:"text,omitempty"`
	At       dingTalkAt        `json:"at"`
}

// Channel implements Notifier.
func (d *DingTalk) Channel() monitor.Channel { return monitor.ChannelDingTalk }

// sendText posts a plain text message.
func (d *DingTalk) sendText(ctx context.Context, content string, atAll bool, atMobiles ...string) error {
	return d.send(ctx, dingTalkPayload{
		MsgType: "text",
		Text:    &dingTalkText{Content: content},
		At:      dingTalkAt{AtMobiles: nonNil(atMobiles), IsAtAll: atAll},
	})
}

// SendMarkdown posts a markdown message.
func (d *DingTalk) SendMarkdown(ctx context.Context, title, text string, atAll bool, atMobiles ...string) error {
	return d.send(ctx, dingTalkPayload{
		MsgType:  "markdown",
		Markdown: &dingTalkMarkdown{Title: title, Text: text},
		At:       dingTalkAt{AtMobiles: nonNil(atMobiles), IsAtAll: atAll},
	})
}

// SendSimpleAlert implements Notifier.
func (d *DingTalk) SendSimpleAlert(ctx context.Context, alert SimpleAlert) error {
	msg := renderSimple(alert, d.client.now)
	return d.SendMarkdown(ctx, msg.Title, msg.Text, false)
}

// SendVulnerabilityAlert implements Notifier.
func (d *DingTalk) SendVulnerabilityAlert(ctx context.Context, alert VulnerabilityAlert) error {
	msg := renderVulnerability(alert, d.client.now)
	return d.SendMarkdown(ctx, msg.Title, msg.Text, msg.Broadcast)
}

func (d *DingTalk) send(ctx context.Context, payload dingTalkPayload) error {
	target := d.client.url
	if d.secret != "" {
		signed, err := signURL(target, d.secret, d.client.now().UnixMilli())
		if err != nil {
			return &NotifyError{Channel: monitor.ChannelDingTalk, Err: err}
		}
		target = signed
	}
	return d.client.post(ctx, target, payload)
}

// signURL appends the timestamp and HMAC-SHA256 signature DingTalk expects
// from robots configured with a signing secret.
func signURL(rawURL, secret string, timestampMillis int64) (string, error) {
	ts := strconv.FormatInt(timestampMillis, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(ts + "\n" + secret)); err != nil {
		return "", fmt.Errorf("sign webhook: %w", err)
	}
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "timestamp=" + ts + "&sign=" + url.QueryEscape(sign), nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
