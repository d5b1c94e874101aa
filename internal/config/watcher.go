package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads path on every write/create event, falling back to a
// bounded 60s poll when the fsnotify watch itself cannot be established
// (e.g. the file does not exist yet at startup).
func Watch(ctx context.Context, path string, log *zap.Logger, onReload func(Config)) {
	if log == nil {
		log = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Warn("config watcher: fsnotify unavailable, falling back to polling", zap.Error(err))
		usePolling = true
	} else if err := watcher.Add(path); err != nil {
		log.Warn("config watcher: failed to watch file, falling back to polling", zap.String("path", path), zap.Error(err))
		usePolling = true
		watcher.Close()
	}

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Error("config watcher: reload failed", zap.Error(err))
			return
		}
		onReload(cfg)
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
						time.Sleep(100 * time.Millisecond)
						reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Error("config watcher error", zap.Error(err))
				}
			}
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reload()
			}
		}
	}()
}
