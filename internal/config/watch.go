package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/katichev/rt-pager/internal/rtlog"
)

// Watch reloads the config file at path whenever it changes on disk
// and passes the freshly loaded Config to onReload, from the watcher's
// own goroutine. Watch does not modify cfg itself and takes no locks;
// whatever onReload updates must be synchronized with its readers by
// the caller. The returned watcher must be closed by the caller on
// shutdown.
func Watch(path string, cfg *Config, onReload func(*Config)) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(path)
				if err != nil {
					rtlog.Warn("config reload failed", "path", path, "error", err)
					continue
				}
				rtlog.Info("config reloaded", "path", path, "hosts", len(reloaded.Hosts))
				onReload(reloaded)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				rtlog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return w, nil
}
