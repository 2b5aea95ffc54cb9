// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reload debounce. Editors often emit several events per save.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the configuration when its file changes on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the config file at path and invokes onChange with
// the freshly loaded configuration after each modification. Invalid edits
// are logged and skipped; the previous configuration stays in effect.
//
// The parent directory is watched rather than the file itself so atomic
// rename-based saves are seen.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}
	go w.loop(path, onChange)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop(path string, onChange func(*Config)) {
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			cfg, err := LoadFromPath(path)
			if err != nil {
				log.Printf("[Config] reload failed, keeping previous config: %v", err)
				continue
			}
			log.Printf("[Config] reloaded %s", path)
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Config] watch error: %v", err)
		}
	}
}
