package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/metrics"
	"github.com/rockmelodies/MonitorTask/internal/monitor"
	"github.com/rockmelodies/MonitorTask/internal/notifier"
)

// maxErrorMessage bounds the error text stored with a failed delivery.
const maxErrorMessage = 1000

// notify delivers the change to every configured webhook once. Each attempt
// is recorded together with the change's notified flag, which becomes true
// after the first success.
func (c *Checker) notify(
	ctx context.Context,
	logger *zap.Logger,
	task monitor.Task,
	change *monitor.ChangeEvent,
	vuln monitor.VulnerabilityInfo,
) []monitor.NotificationRecord {
	if len(task.Webhooks) == 0 {
		logger.Info("no webhooks configured; skipping notification")
		return nil
	}
	if c.notifiers == nil {
		logger.Warn("no notifier factory configured; skipping notification")
		return nil
	}

	var records []monitor.NotificationRecord
	notified := change.Notified
	for _, hook := range task.Webhooks {
		n, err := c.notifiers(hook.Channel, hook.URL)
		if err != nil {
			if errors.Is(err, notifier.ErrInvalidWebhook) {
				logger.Warn("invalid webhook url; skipping", zap.String("channel", string(hook.Channel)))
			} else {
				logger.Warn("webhook unusable; skipping", zap.String("channel", string(hook.Channel)), zap.Error(err))
			}
			continue
		}

		sendErr := c.send(ctx, n, task, change, vuln)
		record := monitor.NotificationRecord{
			TaskID:   task.ID,
			ChangeID: change.ID,
			Channel:  n.Channel(),
			Status:   monitor.NotificationSuccess,
			SentAt:   c.clock.Now(),
		}
		if sendErr != nil {
			record.Status = monitor.NotificationFailed
			record.ErrorMessage = truncate(sendErr.Error(), maxErrorMessage)
			logger.Warn("notification failed", zap.String("channel", string(record.Channel)), zap.Error(sendErr))
		} else {
			notified = true
			logger.Info("notification sent", zap.String("channel", string(record.Channel)))
		}
		metrics.ObserveNotification(string(record.Channel), string(record.Status))

		err = c.store.WithTx(ctx, func(tx monitor.Tx) error {
			if err := tx.InsertNotification(ctx, &record); err != nil {
				return err
			}
			return tx.UpdateChangeNotified(ctx, change.ID, notified)
		})
		if err != nil {
			logger.Error("record notification failed", zap.String("channel", string(record.Channel)), zap.Error(err))
			continue
		}
		change.Notified = notified
		records = append(records, record)
	}
	return records
}

// send picks the alert flavor: keyword matches get the vulnerability
// template, everything else the simple one.
func (c *Checker) send(
	ctx context.Context,
	n notifier.Notifier,
	task monitor.Task,
	change *monitor.ChangeEvent,
	vuln monitor.VulnerabilityInfo,
) error {
	if len(change.MatchedKeywords) > 0 {
		return n.SendVulnerabilityAlert(ctx, notifier.VulnerabilityAlert{
			TaskName:      task.Name,
			URL:           task.URL,
			Summary:       change.Summary,
			Priority:      task.Priority,
			Matched:       change.MatchedKeywords,
			Vulnerability: vuln,
			At:            change.DetectedAt,
		})
	}
	return n.SendSimpleAlert(ctx, notifier.SimpleAlert{
		TaskName: task.Name,
		URL:      task.URL,
		Summary:  change.Summary,
		At:       change.DetectedAt,
	})
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
