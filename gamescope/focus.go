package gamescope

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/user-none/reshadeck/storage"
)

// FocusWatcher polls gamescope for the focused application's app id
type FocusWatcher struct {
	display  string
	interval time.Duration
	log      hclog.Logger

	dial   func(display string) (PropertyReader, error)
	reader PropertyReader
}

// NewFocusWatcher creates a watcher polling display every interval
func NewFocusWatcher(display string, interval time.Duration, logger hclog.Logger) *FocusWatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FocusWatcher{
		display:  display,
		interval: interval,
		log:      logger,
		dial:     dialPropertyReader,
	}
}

// Run calls onChange with the new app id each time the focused application
// changes, until ctx is done. App id 0 (no game focused) is reported as
// storage.UnknownApp. Polls that fail are skipped.
func (w *FocusWatcher) Run(ctx context.Context, onChange func(appID string)) error {
	defer w.closeReader()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := storage.UnknownApp
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		appID, err := w.focusedApp()
		if err != nil {
			w.log.Debug("focused app poll failed", "error", err)
			continue
		}
		if appID == last {
			continue
		}
		w.log.Info("focused app changed", "from", last, "to", appID)
		last = appID
		onChange(appID)
	}
}

func (w *FocusWatcher) focusedApp() (string, error) {
	if w.reader == nil {
		r, err := w.dial(w.display)
		if err != nil {
			return "", err
		}
		w.reader = r
	}

	id, err := w.reader.Cardinal(PropFocusedApp)
	if errors.Is(err, ErrNoProperty) {
		return storage.UnknownApp, nil
	}
	if err != nil {
		// Reconnect on the next poll
		w.closeReader()
		return "", err
	}
	if id == 0 {
		return storage.UnknownApp, nil
	}
	return strconv.FormatUint(uint64(id), 10), nil
}

func (w *FocusWatcher) closeReader() {
	if w.reader != nil {
		w.reader.Close()
		w.reader = nil
	}
}
