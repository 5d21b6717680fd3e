// Package watcher is the notification backend for a watched root.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Cookie files are recognised through a CookieRouter and handed to it
// directly, in arrival order. Everything else is filtered against the
// ignored directory names and debounced into batches.
//
// When the kernel queue overflows the watcher cannot know what it missed,
// so it aborts every pending cookie, rebuilds its watches and emits an
// OpRecrawl event.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	opts.Router = cookieSync
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go w.Start(ctx, "/path/to/project")
//	<-w.Ready()
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        switch ev.Operation {
//	        case watcher.OpRecrawl:
//	            // Treat everything as changed
//	        case watcher.OpCookieDirRemoved:
//	            // Update the cookie scope
//	        }
//	    }
//	}
package watcher
