package documents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"lexbrief/internal/models"
	"lexbrief/internal/session"
)

const DefaultCleanupInterval = time.Hour

// RemoveUpload deletes the directory holding a session's upload. It is the
// eviction hook for stores that expire sessions themselves.
func (s *Service) RemoveUpload(doc *models.DocumentSession) {
	if doc == nil || doc.ID == "" {
		return
	}
	s.removeDir(doc.ID)
}

// StartCleaner sweeps expired sessions and stale upload directories every interval
// until ctx ends.
func (s *Service) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Cleanup(ctx); err != nil {
				s.log.Warn("cleanup uploads error", zap.Error(err))
			}
		}
	}
}

// Cleanup runs one sweep: purge expired sessions where the store needs it, then
// remove upload directories older than the session TTL that no longer have a session.
func (s *Service) Cleanup(ctx context.Context) error {
	now := s.now()
	if p, ok := s.store.(session.Purger); ok {
		purged, err := p.PurgeExpired(ctx, now)
		if err != nil {
			return err
		}
		for _, doc := range purged {
			s.RemoveUpload(doc)
		}
		if len(purged) > 0 {
			s.log.Info("purged expired sessions", zap.Int("count", len(purged)))
		}
	}

	entries, err := os.ReadDir(s.opts.BaseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if s.opts.SessionTTL > 0 && now.Sub(info.ModTime()) < s.opts.SessionTTL {
			continue
		}
		id := entry.Name()
		if _, err := s.store.Get(ctx, id); !errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.opts.BaseDir, id)); err != nil {
			s.log.Warn("remove stale upload failed", zap.String("doc_id", id), zap.Error(err))
		}
	}
	return nil
}
