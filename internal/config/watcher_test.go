package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/in2out/mattermost-s-mcp/internal/webhooks"
)

const validWebhooks = `default_channel: ops
webhooks:
  - channel: ops
    url: https://chat.example.com/hooks/abcdef123
`

func writeWebhooks(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCheckWebhookFile(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		result   string
		problems []string
	}{
		{
			name:    "valid",
			content: validWebhooks,
			result:  CheckOK,
		},
		{
			name:     "stale default",
			content:  "default_channel: gone\nwebhooks:\n  - channel: ops\n    url: https://x.io/hooks/abcdef\n",
			result:   CheckWarning,
			problems: []string{"default channel 'gone' is not registered"},
		},
		{
			name:     "duplicate channel",
			content:  "webhooks:\n  - channel: ops\n    url: https://x.io/hooks/abcdef\n  - channel: ops\n    url: https://x.io/hooks/ghijkl\n",
			result:   CheckWarning,
			problems: []string{"channel 'ops' is listed more than once; the first entry is used"},
		},
		{
			name:     "bad url",
			content:  "webhooks:\n  - channel: ops\n    url: ftp://x.io/hooks/abcdef\n",
			result:   CheckWarning,
			problems: []string{"channel 'ops' has an invalid url (ftp://x.io/hooks/abc***f)"},
		},
		{
			name:     "missing channel",
			content:  "webhooks:\n  - url: https://x.io/hooks/abcdef\n",
			result:   CheckWarning,
			problems: []string{"webhook #1 has no channel"},
		},
		{
			name:    "broken",
			content: "webhooks: 3\n",
			result:  CheckInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "webhooks.yaml")
			writeWebhooks(t, path, tt.content)

			report := CheckWebhookFile(webhooks.NewStore(path))
			assert.Equal(t, tt.result, report.Result)
			assert.Equal(t, tt.problems, report.Problems)
			if tt.result == CheckInvalid {
				assert.Error(t, report.Err)
			}
		})
	}
}

func TestWebhookWatcher_ReportsEdits(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "webhooks.yaml")
	writeWebhooks(t, path, validWebhooks)

	reports := make(chan CheckReport, 16)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	ww, err := NewWebhookWatcher(webhooks.NewStore(path), nil,
		WithDebounce(20*time.Millisecond),
		WithWatcherMetrics(m),
		OnCheck(func(r CheckReport) { reports <- r }),
	)
	require.NoError(t, err)

	ww.Start()
	defer func() { assert.NoError(t, ww.Stop()) }()

	first := <-reports
	assert.Equal(t, CheckOK, first.Result)

	writeWebhooks(t, path, "default_channel: removed\nwebhooks:\n  - channel: ops\n    url: https://x.io/hooks/abcdef\n")

	timeout := time.After(3 * time.Second)
	for {
		select {
		case r := <-reports:
			if r.Result != CheckWarning {
				continue
			}
			assert.Contains(t, r.Problems, "default channel 'removed' is not registered")
			assert.GreaterOrEqual(t, testutil.ToFloat64(m.ConfigChecks.WithLabelValues(CheckWarning)), 1.0)
			return
		case <-timeout:
			t.Fatal("no check after editing the file")
		}
	}
}

func TestWebhookWatcher_IgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "webhooks.yaml")
	writeWebhooks(t, path, validWebhooks)

	reports := make(chan CheckReport, 16)
	ww, err := NewWebhookWatcher(webhooks.NewStore(path), nil,
		WithDebounce(10*time.Millisecond),
		OnCheck(func(r CheckReport) { reports <- r }),
	)
	require.NoError(t, err)
	ww.Start()
	<-reports

	writeWebhooks(t, filepath.Join(dir, "other.yaml"), "x: 1\n")

	select {
	case r := <-reports:
		t.Fatalf("unexpected check: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, ww.Stop())
}

func TestNewWebhookWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWebhookWatcher(webhooks.NewStore(filepath.Join(t.TempDir(), "nope", "webhooks.yaml")), nil)
	assert.Error(t, err)
}
