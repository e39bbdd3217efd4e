// Package notifier delivers change alerts to chat-robot webhooks.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// ErrInvalidWebhook is returned by New for empty or non-http(s) URLs.
var ErrInvalidWebhook = errors.New("invalid webhook url")

// SimpleAlert announces a change that matched no keywords.
type SimpleAlert struct {
	TaskName string
	URL      string
	Summary  string
	At       time.Time
}

// VulnerabilityAlert announces a change that matched at least one keyword.
type VulnerabilityAlert struct {
	TaskName      string
	URL           string
	Summary       string
	Priority      monitor.Priority
	Matched       []string
	Vulnerability monitor.VulnerabilityInfo
	At            time.Time
}

// Notifier sends alerts over one chat channel. A nil error means the remote
// side acknowledged the message.
type Notifier interface {
	Channel() monitor.Channel
	SendSimpleAlert(ctx context.Context, alert SimpleAlert) error
	SendVulnerabilityAlert(ctx context.Context, alert VulnerabilityAlert) error
}

// Options tune notifier construction.
type Options struct {
	Timeout time.Duration
	// DingTalkSecret enables signed DingTalk requests.
	DingTalkSecret string
	HTTPClient     *http.Client
	Now            func() time.Time
}

// NotifyError describes a failed delivery.
type NotifyError struct {
	Channel    monitor.Channel
	StatusCode int
	ErrCode    int
	Message    string
	Err        error
}

func (e *NotifyError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s webhook: %v", e.Channel, e.Err)
	case e.ErrCode != 0:
		return fmt.Sprintf("%s webhook: errcode %d: %s", e.Channel, e.ErrCode, e.Message)
	default:
		return fmt.Sprintf("%s webhook: status %d: %s", e.Channel, e.StatusCode, e.Message)
	}
}

func (e *NotifyError) Unwrap() error { return e.Err }

// New builds the notifier for channel. It fails closed on URLs that are not
// absolute http(s) addresses.
func New(channel monitor.Channel, rawURL string, opts Options) (Notifier, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	client := newWebhookClient(channel, rawURL, opts)
	switch channel {
	case monitor.ChannelDingTalk:
		return &DingTalk{client: client, secret: opts.DingTalkSecret}, nil
	case monitor.ChannelWeCom:
		return &WeCom{client: client}, nil
	default:
		return nil, fmt.Errorf("unsupported channel %q", channel)
	}
}

// ShouldBroadcast reports whether an alert mentions everyone in the group.
func ShouldBroadcast(priority monitor.Priority, matched []string) bool {
	return priority == monitor.PriorityHigh && len(matched) > 0
}

func validateWebhookURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ErrInvalidWebhook
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidWebhook, rawURL)
	}
	return nil
}
