package evidence

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors dir for newly created image files and invokes fn with each
// path. Used to OCR receipts dropped into the evidence directory out-of-band
// (bulk imports, support uploads) and backfill missing amounts. A short delay
// before fn lets the writer finish the file.
func Watch(ctx context.Context, dir string, fn func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if !isImagePath(ev.Name) {
				continue
			}
			time.Sleep(200 * time.Millisecond)
			fn(ev.Name)
		case _, ok := <-w.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func isImagePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return allowedExtensions[ext]
}
