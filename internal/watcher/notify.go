package watcher

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// notifyPending signals on the returned channel whenever a file is created
// or renamed into dir. Bursts collapse into a single pending wake-up.
func notifyPending(dir string, logger *slog.Logger) (<-chan struct{}, func(), error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, nil, err
	}
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Debug("pending dir watch error", "err", err)
			}
		}
	}()
	stop := func() {
		fw.Close()
		<-done
	}
	return wake, stop, nil
}
