package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/extract"
	"github.com/rockmelodies/MonitorTask/internal/fingerprint"
	"github.com/rockmelodies/MonitorTask/internal/metrics"
	"github.com/rockmelodies/MonitorTask/internal/monitor"
	"github.com/rockmelodies/MonitorTask/internal/notifier"
)

var tracer = otel.Tracer("github.com/rockmelodies/MonitorTask/internal/worker")

// NotifierFactory builds a notifier for one webhook. It returns
// notifier.ErrInvalidWebhook for unusable URLs.
type NotifierFactory func(channel monitor.Channel, url string) (notifier.Notifier, error)

// Config controls the optional side outputs of a check.
type Config struct {
	// SnapshotPrefix is prepended to archived page paths.
	SnapshotPrefix string
	// Topic receives change events; empty disables publishing.
	Topic string
}

// Checker runs the fetch, diff, extract and notify pipeline for one task.
type Checker struct {
	store     monitor.Store
	fetcher   monitor.Fetcher
	hasher    *fingerprint.Hasher
	blobs     monitor.BlobStore
	publisher monitor.Publisher
	notifiers NotifierFactory
	clock     monitor.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewChecker constructs a Checker. blobs and publisher may be nil.
func NewChecker(
	store monitor.Store,
	fetcher monitor.Fetcher,
	hasher *fingerprint.Hasher,
	blobs monitor.BlobStore,
	publisher monitor.Publisher,
	notifiers NotifierFactory,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Checker {
	if hasher == nil {
		hasher = fingerprint.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		store:     store,
		fetcher:   fetcher,
		hasher:    hasher,
		blobs:     blobs,
		publisher: publisher,
		notifiers: notifiers,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("checker"),
	}
}

// Check runs one check for req.TaskID. It never panics; failures are
// reported through the outcome.
func (c *Checker) Check(ctx context.Context, req monitor.CheckRequest) (outcome monitor.CheckOutcome) {
	outcome = monitor.CheckOutcome{TaskID: req.TaskID, RunID: req.RunID}
	logger := c.logger.With(zap.Int64("task_id", req.TaskID), zap.String("run_id", req.RunID))

	ctx, span := tracer.Start(ctx, "monitor.check", trace.WithAttributes(
		attribute.Int64("task.id", req.TaskID),
		attribute.String("run.id", req.RunID),
		attribute.Bool("run.manual", req.Manual),
	))
	metrics.IncInFlight()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("check panicked", zap.Any("panic", r), zap.Stack("stack"))
			outcome.Result = monitor.CheckPanicked
			outcome.Err = fmt.Errorf("check panicked: %v", r)
		}
		metrics.DecInFlight()
		metrics.ObserveCheck(string(outcome.Result))
		span.SetAttributes(attribute.String("check.result", string(outcome.Result)))
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, outcome.Err.Error())
		}
		span.End()
	}()

	task, err := c.store.GetTask(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, monitor.ErrTaskNotFound) {
			logger.Warn("task vanished before check")
			outcome.Result = monitor.CheckSkipped
			return outcome
		}
		logger.Error("load task failed", zap.Error(err))
		outcome.Result, outcome.Err = monitor.CheckStoreFailed, err
		return outcome
	}
	if !task.Active {
		logger.Info("task inactive; skipping")
		outcome.Result = monitor.CheckSkipped
		return outcome
	}
	logger = logger.With(zap.String("url", task.URL))
	logger.Info("checking task", zap.String("task", task.Name), zap.Bool("manual", req.Manual))

	page, err := c.fetcher.Fetch(ctx, task.URL, task.Selector)
	if err != nil {
		logger.Warn("fetch failed", zap.Error(err))
		outcome.Result, outcome.Err = monitor.CheckFetchFailed, err
		return outcome
	}

	changed, digest := c.hasher.HasChanged(task.LastContentHash, page.Text)
	checkedAt := c.clock.Now()
	if !changed {
		err := c.store.WithTx(ctx, func(tx monitor.Tx) error {
			return tx.UpdateTaskCheck(ctx, task.ID, checkedAt, digest)
		})
		if err != nil {
			logger.Error("record check failed", zap.Error(err))
			outcome.Result, outcome.Err = monitor.CheckStoreFailed, err
			return outcome
		}
		if task.LastContentHash == nil {
			logger.Info("baseline recorded", zap.String("content_hash", digest))
		} else {
			logger.Info("content unchanged")
		}
		outcome.Result = monitor.CheckUnchanged
		return outcome
	}

	matched := extract.MatchKeywords(page.Text, task.Keywords)
	vuln := extract.ExtractVulnerabilityInfo(page.Text)
	change := &monitor.ChangeEvent{
		TaskID:          task.ID,
		ContentHash:     digest,
		Summary:         extract.Summarize(page.Text, 0),
		Detail:          extract.Detail(page.Text, 0),
		MatchedKeywords: matched,
		DetectedAt:      checkedAt,
	}
	change.SnapshotURI = c.archive(ctx, logger, task, req, digest, page)

	err = c.store.WithTx(ctx, func(tx monitor.Tx) error {
		if err := tx.UpdateTaskCheck(ctx, task.ID, checkedAt, digest); err != nil {
			return err
		}
		return tx.InsertChange(ctx, change)
	})
	if err != nil {
		logger.Error("record change failed", zap.Error(err))
		outcome.Result, outcome.Err = monitor.CheckStoreFailed, err
		return outcome
	}
	outcome.Result = monitor.CheckChanged
	outcome.Change = change
	logger.Info("content changed",
		zap.Int64("change_id", change.ID),
		zap.String("content_hash", digest),
		zap.Strings("matched_keywords", matched),
	)

	c.publish(ctx, logger, task, change, vuln)
	outcome.Notifications = c.notify(ctx, logger, task, change, vuln)
	return outcome
}

// archive stores the normalized page text. Failures are logged and leave the
// change without a snapshot.
func (c *Checker) archive(
	ctx context.Context,
	logger *zap.Logger,
	task monitor.Task,
	req monitor.CheckRequest,
	digest string,
	page monitor.Page,
) string {
	if c.blobs == nil {
		return ""
	}
	path := snapshotPath(c.cfg.SnapshotPrefix, task.ID, req.RunID, digest)
	uri, err := c.blobs.PutObject(ctx, path, "text/plain; charset=utf-8", strings.NewReader(page.Text))
	if err != nil {
		logger.Warn("archive snapshot failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func snapshotPath(prefix string, taskID int64, runID, digest string) string {
	if runID == "" {
		runID = "run"
	}
	name := fmt.Sprintf("tasks/%d/%s-%s.txt", taskID, runID, digest)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// ChangeMessage is the event published for every recorded change.
type ChangeMessage struct {
	TaskID          int64                     `json:"task_id"`
	TaskName        string                    `json:"task_name"`
	URL             string                    `json:"url"`
	Priority        monitor.Priority          `json:"priority"`
	Tags            []string                  `json:"tags,omitempty"`
	ChangeID        int64                     `json:"change_id"`
	ContentHash     string                    `json:"content_hash"`
	Summary         string                    `json:"summary"`
	MatchedKeywords []string                  `json:"matched_keywords,omitempty"`
	Vulnerability   monitor.VulnerabilityInfo `json:"vulnerability"`
	SnapshotURI     string                    `json:"snapshot_uri,omitempty"`
	DetectedAt      string                    `json:"detected_at"`
}

func (c *Checker) publish(
	ctx context.Context,
	logger *zap.Logger,
	task monitor.Task,
	change *monitor.ChangeEvent,
	vuln monitor.VulnerabilityInfo,
) {
	if c.cfg.Topic == "" || c.publisher == nil {
		return
	}
	msg := ChangeMessage{
		TaskID:          task.ID,
		TaskName:        task.Name,
		URL:             task.URL,
		Priority:        task.Priority,
		Tags:            task.Tags,
		ChangeID:        change.ID,
		ContentHash:     change.ContentHash,
		Summary:         change.Summary,
		MatchedKeywords: change.MatchedKeywords,
		Vulnerability:   vuln,
		SnapshotURI:     change.SnapshotURI,
		DetectedAt:      change.DetectedAt.UTC().Format(time.RFC3339),
	}
	id, err := c.publisher.Publish(ctx, c.cfg.Topic, msg)
	if err != nil {
		logger.Warn("publish change failed", zap.String("topic", c.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("change published", zap.String("topic", c.cfg.Topic), zap.String("message_id", id))
}
