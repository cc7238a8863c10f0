package ledgerfile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"payup/internal/log"
)

// Editors often write a file in several steps; events closer together than
// this collapse into one reload.
const debounce = 100 * time.Millisecond

// Watch reloads the ledger at path whenever it is written or recreated and
// passes the result to onChange. It watches the parent directory so files
// replaced by a rename are still seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *log.Logger, onChange func(*Ledger, error)) error {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentLedgerFile)

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("ledger watcher: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ledger watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(abs)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("ledger watcher add %s: %w", dir, err)
	}
	logger.DebugContext(ctx, "Watching ledger file", "path", abs)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				timer.Reset(debounce)
			}
		case <-timer.C:
			l, err := Load(abs)
			if err != nil {
				logger.WarnContext(ctx, "Ledger reload failed", log.FieldError, err)
			}
			onChange(l, err)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "Ledger watcher error", log.FieldError, err)
		}
	}
}
