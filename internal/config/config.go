// Package config loads and validates monitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// DefaultUserAgent is sent with every page fetch unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tasks     []TaskConfig    `mapstructure:"tasks" validate:"dive"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// AuthConfig guards the API with a static key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key" validate:"required_if=Enabled true"`
}

// SchedulerConfig governs scan cadence and worker fan-out.
type SchedulerConfig struct {
	ScanIntervalSeconds  int `mapstructure:"scan_interval_seconds" validate:"gt=0"`
	DefaultCheckInterval int `mapstructure:"default_check_interval" validate:"gt=0"`
	MaxConcurrentTasks   int `mapstructure:"max_concurrent_tasks" validate:"gt=0"`
	QueueDepth           int `mapstructure:"queue_depth" validate:"gt=0"`
}

// FetchConfig configures page retrieval.
type FetchConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds" validate:"gt=0"`
	UserAgent      string  `mapstructure:"user_agent" validate:"required"`
	PerHostRPS     float64 `mapstructure:"per_host_rps" validate:"gte=0"`
	Burst          int     `mapstructure:"burst" validate:"gte=0"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes" validate:"gte=0"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"gt=0"`
	// DingTalkSecret enables signed DingTalk requests.
	DingTalkSecret string `mapstructure:"dingtalk_secret"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32  `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds" validate:"gte=0"`
	Migrate         bool   `mapstructure:"migrate"`
}

// SnapshotConfig selects where changed pages are archived.
type SnapshotConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=none memory local gcs"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PublishConfig selects where change events are published.
type PublishConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=none memory pubsub"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// TaskConfig seeds one monitoring task.
type TaskConfig struct {
	ID            int64           `mapstructure:"id" validate:"gte=0"`
	Name          string          `mapstructure:"name" validate:"required,max=200"`
	URL           string          `mapstructure:"url" validate:"required,url,max=500"`
	Selector      string          `mapstructure:"selector"`
	CheckInterval int             `mapstructure:"check_interval" validate:"gte=0"`
	Keywords      []string        `mapstructure:"keywords"`
	Tags          []string        `mapstructure:"tags"`
	Priority      string          `mapstructure:"priority" validate:"omitempty,oneof=low medium high"`
	Active        *bool           `mapstructure:"active"`
	Webhooks      []WebhookConfig `mapstructure:"webhooks" validate:"dive"`
}

// WebhookConfig is one notification target. URLs are checked when a
// notification is sent, so a bad URL disables only that webhook.
type WebhookConfig struct {
	Channel string `mapstructure:"channel" validate:"required,oneof=dingtalk wecom"`
	URL     string `mapstructure:"url" validate:"required"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("scheduler.scan_interval_seconds", 60)
	v.SetDefault("scheduler.default_check_interval", 300)
	v.SetDefault("scheduler.max_concurrent_tasks", 100)
	v.SetDefault("scheduler.queue_depth", 256)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.per_host_rps", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.migrate", true)
	v.SetDefault("snapshot.driver", "memory")
	v.SetDefault("snapshot.prefix", "snapshots")
	v.SetDefault("snapshot.local_dir", "data/snapshots")
	v.SetDefault("publish.driver", "none")
	v.SetDefault("publish.topic", "content-changes")
	v.SetDefault("telemetry.service_name", "monitortask")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return describe(err)
	}
	if c.Store.Driver == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when store.driver is postgres")
	}
	if c.Snapshot.Driver == "local" && strings.TrimSpace(c.Snapshot.LocalDir) == "" {
		return fmt.Errorf("snapshot.local_dir must be set when snapshot.driver is local")
	}
	if c.Snapshot.Driver == "gcs" && c.Snapshot.GCSBucket == "" {
		return fmt.Errorf("snapshot.gcs_bucket must be set when snapshot.driver is gcs")
	}
	if c.Publish.Driver == "pubsub" && (c.Publish.ProjectID == "" || c.Publish.Topic == "") {
		return fmt.Errorf("publish.project_id and publish.topic must be set when publish.driver is pubsub")
	}
	seen := make(map[int64]struct{}, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.ID == 0 {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("tasks[%d].id %d is duplicated", i, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// describe turns validator errors into config-key messages.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s fails %s", key, rule))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ScanInterval is the cadence of the due-task scan.
func (c Config) ScanInterval() time.Duration {
	return time.Duration(c.Scheduler.ScanIntervalSeconds) * time.Second
}

// FetchTimeout bounds one page fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NotifyTimeout bounds one webhook delivery.
func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSeconds) * time.Second
}

// MonitorTasks converts the seeded tasks, applying the default interval and
// priority. Tasks are active unless explicitly disabled.
func (c Config) MonitorTasks() []monitor.Task {
	out := make([]monitor.Task, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		task := monitor.Task{
			ID:            t.ID,
			Name:          t.Name,
			URL:           t.URL,
			Selector:      t.Selector,
			CheckInterval: t.CheckInterval,
			Keywords:      append([]string(nil), t.Keywords...),
			Tags:          append([]string(nil), t.Tags...),
			Priority:      monitor.Priority(t.Priority),
			Active:        t.Active == nil || *t.Active,
		}
		if task.CheckInterval == 0 {
			task.CheckInterval = c.Scheduler.DefaultCheckInterval
		}
		if task.Priority == "" {
			task.Priority = monitor.PriorityMedium
		}
		for _, w := range t.Webhooks {
			task.Webhooks = append(task.Webhooks, monitor.Webhook{Channel: monitor.Channel(w.Channel), URL: w.URL})
		}
		out = append(out, task)
	}
	return out
}
