package config

import (
	"bytes"
	"context"
	"log"
	"os"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors path for changes and calls onChange with the newly
// loaded Config each time the file content changes. It runs until ctx
// is cancelled.
//
// If a reload fails (e.g. invalid YAML), the error is logged and the
// previous config remains active; onChange is not called. A truncated
// or empty file is treated as a save in progress, not a reload.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log.Printf("config: watching %s for changes", path)

	// Baseline for change detection: events that leave the file at the
	// content we already delivered are suppressed.
	last, _ := Load(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, which arrives as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// An atomic save replaces the inode, so re-add before
			// reading; otherwise later writes go unseen.
			_ = watcher.Add(path)

			data, err := os.ReadFile(path)
			if err != nil {
				log.Printf("config: reload failed, keeping previous config: %v", err)
				continue
			}
			// Non-atomic saves truncate the file first; an empty read
			// means we raced the writer. The follow-up Write event will
			// carry the real content.
			if len(bytes.TrimSpace(data)) == 0 {
				continue
			}

			cfg, err := parse(data)
			if err != nil {
				log.Printf("config: reload failed, keeping previous config: %v", err)
				continue
			}
			if reflect.DeepEqual(cfg, last) {
				continue
			}
			last = cfg

			log.Printf("config: reloaded %s", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}
