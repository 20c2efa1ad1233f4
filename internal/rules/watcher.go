package rules

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the quiet period before a change triggers a reload.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a Provider when its rule file changes on disk.
//
// The parent directory is watched rather than the file so that editors which
// write a temp file and rename it over the original are still picked up.
type Watcher struct {
	provider *Provider
	watcher  *fsnotify.Watcher
	logger   *logrus.Logger
	interval time.Duration

	mu    sync.Mutex
	timer *time.Timer

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	// reloaded is signalled after every reload attempt; tests wait on it.
	reloaded chan error
}

// NewWatcher creates a watcher for the provider's rule file.
func NewWatcher(provider *Provider, interval time.Duration, logger *logrus.Logger) (*Watcher, error) {
	if provider == nil || provider.Path() == "" {
		return nil, fmt.Errorf("rule watcher needs a file-backed provider")
	}
	if interval <= 0 {
		interval = DefaultDebounce
	}
	if logger == nil {
		logger = logrus.New()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		provider: provider,
		watcher:  fw,
		logger:   logger,
		interval: interval,
		reloaded: make(chan error, 1),
		closed:   make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled or the watcher is closed, reloading the
// provider after each burst of writes to the rule file.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	select {
	case <-w.closed:
		return nil
	default:
	}

	target := filepath.Clean(w.provider.Path())
	if err := w.watcher.Add(filepath.Dir(target)); err != nil {
		return w.closedOr(fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err))
	}

	w.logger.WithFields(logrus.Fields{
		"path":        target,
		"debounce_ms": w.interval.Milliseconds(),
	}).Info("Rule file watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Rule file watcher stopped")
			return nil

		case <-w.closed:
			w.logger.Info("Rule file watcher closed")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return w.closedOr(errors.New("watcher events channel closed"))
			}
			if filepath.Clean(event.Name) != target || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			w.logger.WithFields(logrus.Fields{
				"path": event.Name,
				"op":   event.Op.String(),
			}).Debug("Rule file event")
			w.trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return w.closedOr(errors.New("watcher errors channel closed"))
			}
			w.logger.WithError(err).Error("Rule file watcher error")
		}
	}
}

// Close stops the watcher and releases its fsnotify handle. It is safe to call
// more than once and before or after Run.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)
		w.stopTimer()
		w.closeErr = w.watcher.Close()
	})
	return w.closeErr
}

// closedOr returns err unless the watcher was closed underneath Run.
func (w *Watcher) closedOr(err error) error {
	select {
	case <-w.closed:
		return nil
	default:
		return err
	}
}

// Reloaded exposes reload outcomes, one per debounced burst.
func (w *Watcher) Reloaded() <-chan error {
	return w.reloaded
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.interval, func() {
		err := w.provider.Reload()
		select {
		case w.reloaded <- err:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
