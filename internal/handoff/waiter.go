package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quintetdev/quintet/internal/errors"
	"github.com/quintetdev/quintet/internal/logging"
	"github.com/quintetdev/quintet/internal/termsvc"
)

// WaiterConfig tunes the response wait loop.
type WaiterConfig struct {
	// PollInterval is how often terminal status and the response file are
	// checked. Filesystem events can wake the loop earlier but never
	// replace the poll.
	PollInterval time.Duration
	// IdleGrace is how long a settled terminal may sit without a response
	// file before the wait gives up early.
	IdleGrace time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
	// Strict forbids falling back to terminal scrollback when the agent
	// never writes its response file.
	Strict bool
}

// Waiter blocks until an agent has written its response file and its
// terminal has settled.
type Waiter struct {
	client *termsvc.Client
	files  *Files
	cfg    WaiterConfig
	log    *logging.Logger
}

// NewWaiter builds a waiter over the given terminal client and file layout.
func NewWaiter(client *termsvc.Client, files *Files, cfg WaiterConfig, log *logging.Logger) *Waiter {
	return &Waiter{client: client, files: files, cfg: cfg, log: log}
}

// SendAndWait archives any stale response for role, delivers the prompt to
// the terminal, and waits for the fresh response.
func (w *Waiter) SendAndWait(ctx context.Context, terminalID, role, message string) (string, error) {
	w.files.ClearStale(role)
	if err := w.client.SendInput(ctx, terminalID, message); err != nil {
		return "", err
	}
	return w.Await(ctx, role, terminalID)
}

// Await waits for role's response file. The file counts only once the
// terminal has settled, so a half-written file is never consumed while the
// agent is still producing it. A settled terminal with no file is given
// IdleGrace to produce one; after that the wait fails in strict mode or
// falls back to the terminal's last output otherwise. Responses that are
// present but blank are archived and waited past.
func (w *Waiter) Await(ctx context.Context, role, terminalID string) (string, error) {
	log := w.log.WithRole(role)
	start := time.Now()
	var idleSince time.Time

	wake := w.watchDir(log)
	if wake != nil {
		defer wake.Close()
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := w.client.Status(ctx, terminalID)
		if err != nil {
			return "", err
		}
		if status == termsvc.StatusError {
			return "", errors.NewTerminalError("await response", terminalID, errors.ErrTerminalFailed)
		}

		if status.Settled() && w.files.Exists(role) {
			content, ok, err := w.files.Consume(role)
			if err != nil {
				return "", err
			}
			if ok && content != "" {
				return content, nil
			}
			// Blank response file: archived, keep waiting.
			log.Warn("response file was blank, continuing to wait")
		}

		if status.Settled() && !w.files.Exists(role) {
			if idleSince.IsZero() {
				idleSince = time.Now()
			} else if time.Since(idleSince) > w.cfg.IdleGrace {
				if w.cfg.Strict {
					return "", errors.NewHandoffError(role, fmt.Errorf(
						"agent finished (idle %s) without writing response file: %w",
						w.cfg.IdleGrace, errors.ErrNoResponseFile))
				}
				log.Warn("no response file after idle grace, falling back to terminal output",
					"idle_grace", w.cfg.IdleGrace)
				return w.client.LastOutput(ctx, terminalID)
			}
		} else {
			idleSince = time.Time{}
		}

		if elapsed := time.Since(start); elapsed > w.cfg.Timeout {
			if status.Settled() {
				if w.cfg.Strict {
					return "", errors.NewHandoffError(role, fmt.Errorf(
						"response file not written after %s: %w",
						w.cfg.Timeout, errors.ErrNoResponseFile))
				}
				log.Warn("response file not found before timeout, falling back to terminal output",
					"timeout", w.cfg.Timeout)
				return w.client.LastOutput(ctx, terminalID)
			}
			return "", errors.NewHandoffError(role, fmt.Errorf(
				"terminal %s still %s after %s: %w",
				terminalID, status, w.cfg.Timeout, errors.ErrResponseTimeout))
		}

		if err := w.sleep(ctx, ticker, wake); err != nil {
			return "", err
		}
	}
}

// sleep waits for the next poll tick, an early filesystem wake, or context
// cancellation.
func (w *Waiter) sleep(ctx context.Context, ticker *time.Ticker, wake *fsnotify.Watcher) error {
	if wake == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C:
		return nil
	case <-wake.Events:
		return nil
	case err := <-wake.Errors:
		w.log.Debug("response dir watch error", "error", err)
		return nil
	}
}

// watchDir sets up an fsnotify watcher on the response directory so the
// loop reacts to a freshly written file without waiting out a full poll
// interval. Watch failures degrade to pure polling.
func (w *Waiter) watchDir(log *logging.Logger) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("fsnotify unavailable, polling only", "error", err)
		return nil
	}
	if err := watcher.Add(w.files.Dir()); err != nil {
		log.Debug("cannot watch response dir, polling only", "error", err)
		watcher.Close()
		return nil
	}
	return watcher
}
