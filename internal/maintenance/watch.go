package maintenance

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchProjectFiles watches the directories containing a project's recently
// modified files and runs DetectStale immediately on a write or create
// event, rather than waiting for the periodic sweep's mtime poll (spec
// §4.9). Disabled by default (config.MaintenanceWatchEnabled); a stopped or
// failed watch still leaves the periodic sweep doing the same job, so this
// is purely a latency optimization, never a correctness dependency. The
// returned error only reports setup failures; the watch itself runs in a
// goroutine until ctx is cancelled.
func (s *Service) WatchProjectFiles(ctx context.Context, project string) error {
	if !s.config.MaintenanceWatchEnabled {
		return nil
	}

	observations, err := s.repo.RecentWithFilesModified(ctx, project, s.config.StaleDetectionLimit)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Debug().Err(err).Msg("failed to create filesystem watcher, relying on periodic sweep")
		return err
	}

	dirs := make(map[string]struct{})
	for _, obs := range observations {
		for _, f := range obs.FilesModified {
			dirs[filepath.Dir(f)] = struct{}{}
		}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			s.log.Debug().Err(err).Str("dir", dir).Msg("failed to watch directory, relying on periodic sweep")
		}
	}

	go s.runWatch(ctx, watcher, project)
	return nil
}

func (s *Service) runWatch(ctx context.Context, watcher *fsnotify.Watcher, project string) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := s.DetectStale(ctx, project); err != nil {
				s.log.Debug().Err(err).Str("project", project).Msg("watch-triggered stale detection failed")
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Debug().Err(werr).Msg("filesystem watcher error")
		}
	}
}
