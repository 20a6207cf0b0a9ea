// Package boardfile reads the board catalog: the YAML file that supplies
// boards and their column configuration to the engine.
package boardfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/flowboard/internal/domain/board"
)

// Definition is one catalog entry. Columns are listed in board order;
// position is the list index.
type Definition = board.Definition

type catalogFile struct {
	Boards []Definition `yaml:"boards"`
}

// Load parses and validates the catalog at path.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) ([]Definition, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Boards))
	for i := range f.Boards {
		def := &f.Boards[i]
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("board %d: %w", i, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate board id %q", def.ID)
		}
		seen[def.ID] = true

		cols := make(map[string]bool, len(def.Columns))
		for j := range def.Columns {
			c := &def.Columns[j]
			c.BoardID = def.ID
			c.Position = j
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("board %s: %w", def.ID, err)
			}
			if cols[c.ID] {
				return nil, fmt.Errorf("board %s: duplicate column id %q", def.ID, c.ID)
			}
			cols[c.ID] = true
		}
	}
	return f.Boards, nil
}

const debounce = 250 * time.Millisecond

// Watch calls onChange with the reloaded catalog whenever the file changes,
// until ctx is done. The parent directory is watched so editors that
// replace the file atomically are noticed. Invalid catalogs are logged and
// skipped.
func Watch(ctx context.Context, path string, onChange func([]Definition)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				defs, err := Load(path)
				if err != nil {
					slog.Error("catalog reload failed", "path", path, "error", err)
					continue
				}
				slog.Info("catalog reloaded", "path", path, "boards", len(defs))
				onChange(defs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("fsnotify error", "error", err)
			}
		}
	}()
	return nil
}
