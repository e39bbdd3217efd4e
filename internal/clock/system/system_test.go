package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

var _ monitor.Clock = Clock{}

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}
