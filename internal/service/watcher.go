package service

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watch triggers extra ingest passes when files in the scan directory are
// created or written to. The poll ticker stays active regardless, so a
// missed event only delays a pass, never loses data.
func (s *Ingestor) watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create filesystem watcher, relying on polling")
		return
	}
	defer w.Close()

	if err := w.Add(s.cfg.ScanDir); err != nil {
		log.Warn().
			Err(err).
			Str("dir", s.cfg.ScanDir).
			Msg("Failed to watch scan directory, relying on polling")
		return
	}

	log.Info().Str("dir", s.cfg.ScanDir).Msg("Watching scan directory")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				s.kick()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Filesystem watcher error")
		}
	}
}

// kick requests a pass without blocking; a pending request is enough.
func (s *Ingestor) kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}
