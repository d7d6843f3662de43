//go:build windows

package config

// registerSignalHandler is a no-op on Windows, where SIGHUP does not
// exist. The fsnotify watcher still picks up file changes.
func (r *Reloader) registerSignalHandler() {
	r.logger.Info("no SIGHUP on Windows, config reload via file watcher only")
}
