package config

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/in2out/mattermost-s-mcp/internal/webhooks"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

// Check results
const (
	CheckOK      = "ok"
	CheckWarning = "warning"
	CheckInvalid = "invalid"
)

// CheckReport is the outcome of validating the webhook file
type CheckReport struct {
	Result   string
	Problems []string
	Err      error
}

// CheckWebhookFile loads the webhook file and lists the problems a tool
// call would run into later. The file is only read.
func CheckWebhookFile(store *webhooks.Store) CheckReport {
	cfg, err := store.Load()
	if err != nil {
		return CheckReport{Result: CheckInvalid, Err: err}
	}

	var problems []string
	seen := make(map[string]bool, len(cfg.Webhooks))
	for i, w := range cfg.Webhooks {
		if w.Channel == "" {
			problems = append(problems, fmt.Sprintf("webhook #%d has no channel", i+1))
			continue
		}
		if seen[w.Channel] {
			problems = append(problems, fmt.Sprintf("channel '%s' is listed more than once; the first entry is used", w.Channel))
		}
		seen[w.Channel] = true

		if u, err := url.Parse(w.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("channel '%s' has an invalid url (%s)", w.Channel, webhooks.Mask(w.URL)))
		}
	}

	if cfg.DefaultChannel != "" && !seen[cfg.DefaultChannel] {
		problems = append(problems, fmt.Sprintf("default channel '%s' is not registered", cfg.DefaultChannel))
	}

	if len(problems) > 0 {
		return CheckReport{Result: CheckWarning, Problems: problems}
	}
	return CheckReport{Result: CheckOK}
}

// WebhookWatcher re-validates the webhook file whenever it changes and
// logs what it finds. It never caches the file: tool calls still load it
// themselves.
type WebhookWatcher struct {
	store        *webhooks.Store
	file         string
	watcher      *fsnotify.Watcher
	logger       observability.Logger
	metrics      *metrics.Metrics
	debounceTime time.Duration
	onCheck      func(CheckReport)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherOption configures a WebhookWatcher
type WatcherOption func(*WebhookWatcher)

// WithDebounce sets how long to wait for a burst of edits to settle
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *WebhookWatcher) { w.debounceTime = d }
}

// WithWatcherMetrics counts checks by result
func WithWatcherMetrics(m *metrics.Metrics) WatcherOption {
	return func(w *WebhookWatcher) { w.metrics = m }
}

// OnCheck registers a function called after every check
func OnCheck(fn func(CheckReport)) WatcherOption {
	return func(w *WebhookWatcher) { w.onCheck = fn }
}

// NewWebhookWatcher creates a watcher for the store's file. The parent
// directory is watched so editors that replace the file on save are
// followed.
func NewWebhookWatcher(store *webhooks.Store, logger observability.Logger, opts ...WatcherOption) (*WebhookWatcher, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	file, err := filepath.Abs(store.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve webhook file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(file), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ww := &WebhookWatcher{
		store:        store,
		file:         file,
		watcher:      watcher,
		logger:       logger,
		debounceTime: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(ww)
	}
	return ww, nil
}

// Start checks the file once and then watches it
func (ww *WebhookWatcher) Start() {
	ww.check()

	ww.wg.Add(1)
	go ww.watchLoop()

	ww.logger.Info("Webhook file watcher started", map[string]interface{}{
		"config_file": ww.file,
	})
}

// Stop stops watching and waits for the watch loop to exit
func (ww *WebhookWatcher) Stop() error {
	ww.cancel()
	err := ww.watcher.Close()
	ww.wg.Wait()
	return err
}

// watchLoop is the main watch loop
func (ww *WebhookWatcher) watchLoop() {
	defer ww.wg.Done()

	// Debounce rapid file changes (e.g., from text editors)
	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ww.ctx.Done():
			ww.logger.Info("Webhook file watcher stopped", nil)
			return

		case event, ok := <-ww.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != ww.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce == nil {
				debounce = time.NewTimer(ww.debounceTime)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(ww.debounceTime)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			ww.check()

		case err, ok := <-ww.watcher.Errors:
			if !ok {
				return
			}
			ww.logger.Error("Webhook file watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func (ww *WebhookWatcher) check() {
	report := CheckWebhookFile(ww.store)
	ww.metrics.RecordConfigCheck(report.Result)

	switch report.Result {
	case CheckInvalid:
		ww.logger.Error("Webhook file is invalid", map[string]interface{}{
			"config_file": ww.file,
			"error":       report.Err.Error(),
		})
	case CheckWarning:
		for _, p := range report.Problems {
			ww.logger.Warn("Webhook file problem", map[string]interface{}{
				"config_file": ww.file,
				"problem":     p,
			})
		}
	default:
		ww.logger.Info("Webhook file checked", map[string]interface{}{
			"config_file": ww.file,
		})
	}

	if ww.onCheck != nil {
		ww.onCheck(report)
	}
}
