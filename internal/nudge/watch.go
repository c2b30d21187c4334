package nudge

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jayminwest/overstory/internal/corelog"
)

// Watcher observes the pending-nudges directory with fsnotify and
// reports an agent name on Events whenever a marker is written or
// removed. It is an additional, non-blocking notifier path for the
// dashboard's live session view; the long-poll Wait algorithm (§4.4)
// does not depend on it and keeps using sleep-with-backoff.
type Watcher struct {
	Events <-chan string

	inner  *fsnotify.Watcher
	logger *corelog.Logger
}

// NewWatcher starts watching c's pending-nudges directory. If the
// directory does not yet exist, it is created so fsnotify has
// something to watch. A nil Watcher (with a nil error) is never
// returned; callers that cannot tolerate fsnotify should fall back to
// polling on error, as the teacher's dashboard watcher does.
func NewWatcher(c *Channel, logger *corelog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, err
	}

	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := inner.Add(c.dir); err != nil {
		inner.Close()
		return nil, err
	}

	events := make(chan string, 16)
	w := &Watcher{Events: events, inner: inner, logger: logger}
	go w.run(events)
	return w, nil
}

func (w *Watcher) run(out chan<- string) {
	defer close(out)
	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			agent := agentFromMarkerPath(ev.Name)
			if agent == "" {
				continue
			}
			select {
			case out <- agent:
			default:
				// A slow or absent consumer must never block the
				// watcher goroutine; the marker file itself remains
				// the source of truth.
			}
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("nudge watcher: %v", err)
			}
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.inner.Close()
}

// WaitForAny blocks until an event arrives, the context is cancelled,
// or timeout elapses, whichever comes first. Returns "" on timeout or
// cancellation.
func WaitForAny(ctx context.Context, events <-chan string, timeout time.Duration) string {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case agent, ok := <-events:
		if !ok {
			return ""
		}
		return agent
	case <-ctx.Done():
		return ""
	case <-t.C:
		return ""
	}
}

func agentFromMarkerPath(path string) string {
	base := path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	const suffix = ".json"
	if len(base) <= len(suffix) || base[len(base)-len(suffix):] != suffix {
		return ""
	}
	return base[:len(base)-len(suffix)]
}
