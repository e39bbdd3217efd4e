package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/config"
	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

type fakeApp struct {
	ran     bool
	closed  bool
	checked int64
	outcome monitor.CheckOutcome
	err     error
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return f.err
}

func (f *fakeApp) RunNow(_ context.Context, taskID int64) (monitor.CheckOutcome, error) {
	f.checked = taskID
	return f.outcome, f.err
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

// useFakeApp swaps the factory; tests using it must not run in parallel.
func useFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = orig })
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
logging:
  level: error
tasks:
  - id: 3
    name: advisories
    url: https://example.com/advisories
    priority: high
    keywords: [漏洞, CVE]
    webhooks:
      - channel: wecom
        url: https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=x
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServeRunsAndClosesApp(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute(t, "serve", "--config", writeConfig(t))
	require.NoError(t, err)
	require.True(t, fake.ran)
	require.True(t, fake.closed)
}

func TestCheckPrintsOutcome(t *testing.T) {
	fake := &fakeApp{outcome: monitor.CheckOutcome{
		TaskID: 3,
		RunID:  "run-1",
		Result: monitor.CheckChanged,
		Change: &monitor.ChangeEvent{ID: 9, ContentHash: "abc", MatchedKeywords: []string{"CVE"}},
		Notifications: []monitor.NotificationRecord{
			{Channel: monitor.ChannelWeCom, Status: monitor.NotificationFailed, ErrorMessage: "errcode 93000"},
		},
	}}
	useFakeApp(t, fake)

	out, err := execute(t, "check", "3", "--config", writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, int64(3), fake.checked)
	require.True(t, fake.closed)
	require.Contains(t, out, "task 3 run run-1: changed")
	require.Contains(t, out, "change 9 hash abc")
	require.Contains(t, out, "notify wecom: failed (errcode 93000)")
}

func TestCheckReportsFailures(t *testing.T) {
	fake := &fakeApp{outcome: monitor.CheckOutcome{
		TaskID: 3,
		Result: monitor.CheckFetchFailed,
		Err:    errors.New("status 503"),
	}}
	useFakeApp(t, fake)

	_, err := execute(t, "check", "3", "--config", writeConfig(t))
	require.EqualError(t, err, "check task 3: fetch_failed: status 503")

	_, err = execute(t, "check", "zero", "--config", writeConfig(t))
	require.EqualError(t, err, `invalid task id "zero"`)
}

func TestValidateListsTasks(t *testing.T) {
	out, err := execute(t, "validate", "--config", writeConfig(t))
	require.NoError(t, err)
	require.Contains(t, out, "config ok: store=memory snapshot=memory publish=none")
	require.Contains(t, out, `task "advisories" https://example.com/advisories every 300s priority=high active=true webhooks=1`)
}

func TestBadConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: sqlite\n"), 0o600))

	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}
