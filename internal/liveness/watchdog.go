// Package liveness reconnects a feed that has gone quiet.
package liveness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/pkg/logger"
)

const (
	// DefaultWindow is how long a source may stay silent before a reconnect
	DefaultWindow = 8 * time.Second

	minPollInterval = 100 * time.Millisecond
)

// Watchdog periodically checks an ActivitySource and calls Reconnect when
// nothing has happened within the window.
//
// Silence is measured from the latest of: the source's last activity, the
// watchdog's last kick and the moment the watchdog was started. A kick
// therefore buys the source a full window to recover before the next one.
//
// Thread-safety: All public methods are thread-safe.
type Watchdog struct {
	source ActivitySource
	logger *logger.Logger

	window       time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	started  bool
	lastKick time.Time
	kicks    uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchdog creates a stopped watchdog. A window of zero or less uses
// DefaultWindow.
//
// The source is polled four times per window so a stall is noticed at most
// a quarter window late.
func NewWatchdog(source ActivitySource, window time.Duration, logger *logger.Logger) *Watchdog {
	ctx, cancel := context.WithCancel(context.Background())

	if window <= 0 {
		window = DefaultWindow
	}

	poll := window / 4
	if poll < minPollInterval {
		poll = minPollInterval
	}

	return &Watchdog{
		source:       source,
		logger:       logger.Named("liveness"),
		window:       window,
		pollInterval: poll,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins watching.
//
// Returns an error if the watchdog is already started.
func (w *Watchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("watchdog already started")
	}
	w.started = true
	w.lastKick = w.now()

	w.wg.Add(1)
	go w.watchLoop()

	return nil
}

// Stop stops the watchdog and waits for its goroutine. Idempotent.
func (w *Watchdog) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Kicks returns how many reconnects the watchdog has requested
func (w *Watchdog) Kicks() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.kicks
}

func (w *Watchdog) watchLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check kicks the source when it has been silent for a full window.
func (w *Watchdog) check() bool {
	now := w.now()
	activity := w.source.LastActivity()

	w.mu.Lock()
	since := activity
	if w.lastKick.After(since) {
		since = w.lastKick
	}
	silent := now.Sub(since)
	if silent < w.window {
		w.mu.Unlock()
		return false
	}
	w.lastKick = now
	w.kicks++
	w.mu.Unlock()

	w.logger.Info("feed silent, reconnecting",
		zap.Duration("silent_for", silent),
		zap.Duration("window", w.window))

	w.source.Reconnect()
	return true
}
