package rtconfig

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file on change and hands valid configs to
// onChange. Invalid or unreadable intermediate states (editors write in
// several steps) go to onError and the previous config stays in force.
// The returned stop function releases the watcher.
func Watch(path string, onChange func(Config), onError func(error)) (func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: most editors replace the file, which drops a
	// watch registered on the file itself.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	base := filepath.Base(path)

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return w.Close, nil
}
