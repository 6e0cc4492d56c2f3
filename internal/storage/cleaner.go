package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coffersTech/grandoutput/internal/model"
)

// RunCleaner periodically removes the segment files of dir whose newest
// entry is older than retention, until ctx is done.
func RunCleaner(ctx context.Context, dir string, retention, interval time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("cleaner started", "retention", retention, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := PurgeExpired(dir, retention, now, logger); err != nil {
				logger.Error("cleaner failed to read data dir", "error", err)
			}
		}
	}
}

// PurgeExpired removes the expired segment files of dir and returns their
// names. Temporary files and unknown names are left alone.
func PurgeExpired(dir string, retention time.Duration, now time.Time, logger *slog.Logger) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	threshold := model.TimeOf(now.Add(-retention))
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SegmentExt) {
			continue
		}
		_, maxTime, ok := ParseSegmentName(entry.Name())
		if !ok || maxTime >= threshold {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			logger.Error("cleaner failed to delete segment", "file", entry.Name(), "error", err)
			continue
		}
		logger.Info("expired segment deleted", "file", entry.Name())
		removed = append(removed, entry.Name())
	}
	return removed, nil
}
