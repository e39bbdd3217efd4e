package notifier

import (
	"context"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// mentionAll is the WeCom mention that notifies every group member.
const mentionAll = "@all"

// WeCom posts to a WeCom (企业微信) group robot.
type WeCom struct {
	client *webhookClient
}

type weComContent struct {
	Content       string   `json:"content"`
	MentionedList []string `json:"mentioned_list,omitempty"`
}

type weComPayload struct {
	MsgType  string        `json:"msgtype"`
	Markdown *weComContent `json:"markdown,omitempty"`
	Text     *weComContent `json:"text,omitempty"`
}

// Channel implements Notifier.
func (w *WeCom) Channel() monitor.Channel { return monitor.ChannelWeCom }

// SendText posts a plain text message.
func (w *WeCom) SendText(ctx context.Context, content string, atAll bool) error {
	return w.client.post(ctx, w.client.url, weComPayload{
		MsgType: "text",
		Text:    &weComContent{Content: content, MentionedList: mentions(atAll)},
	})
}

// SendMarkdown posts a markdown message. WeCom markdown has no title field.
func (w *WeCom) SendMarkdown(ctx context.Context, text string, atAll bool) error {
	return w.client.post(ctx, w.client.url, weComPayload{
		MsgType:  "markdown",
		Markdown: &weComContent{Content: text, MentionedList: mentions(atAll)},
	})
}

// SendSimpleAlert implements Notifier.
func (w *WeCom) SendSimpleAlert(ctx context.Context, alert SimpleAlert) error {
	msg := renderSimple(alert, w.client.now)
	return w.SendMarkdown(ctx, msg.Text, false)
}

// SendVulnerabilityAlert implements Notifier. WeCom drops mentions on
// markdown messages, so a broadcast is followed by a text message that
// mentions everyone.
func (w *WeCom) SendVulnerabilityAlert(ctx context.Context, alert VulnerabilityAlert) error {
	msg := renderVulnerability(alert, w.client.now)
	if err := w.SendMarkdown(ctx, msg.Text, msg.Broadcast); err != nil {
		return err
	}
	if !msg.Broadcast {
		return nil
	}
	return w.SendText(ctx, msg.Title, true)
}

func mentions(atAll bool) []string {
	if atAll {
		return []string{mentionAll}
	}
	return nil
}
