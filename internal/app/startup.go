package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
	"github.com/yourusername/remotedl-go/internal/infrastructure"
)

// startup restores persisted downloads, cleans the incomplete directory,
// opens the daemon channel and restarts what was active. The order matters:
// cleanup runs before any download can claim a filename and the channel
// exists before any restart command is sent.
func (m *Manager) startup(ctx context.Context) error {
	m.reg.setContext(ctx)

	var restored []*RemoteDownloader
	if m.deps.Repo != nil {
		records, err := m.deps.Repo.FindAll()
		if err != nil {
			return fmt.Errorf("failed to load downloads: %w", err)
		}
		for _, record := range records {
			restored = append(restored, m.reg.Restore(record))
		}
	}
	m.logger.Info("Restored downloads", zap.Int("count", len(restored)))

	m.cleanupIncompleteDownloads(restored)

	if m.daemon == nil {
		return fmt.Errorf("no daemon configured")
	}
	onStatus := func(report domain.StatusReport) {
		m.loop.Post(func() { m.reg.UpdateStatus(report) })
	}
	if err := m.daemon.Start(ctx, onStatus); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	m.reg.deps.Daemon = m.daemon

	for _, d := range restored {
		if m.restoredConsumer != nil {
			if c := m.restoredConsumer(m.snapshot(d)); c != nil {
				d.AddConsumer(c)
			}
		}
		d.RestartIfNeeded()
	}
	return nil
}

// cleanupIncompleteDownloads deletes everything in the incomplete directory
// that no active download still owns. Failures are logged and skipped.
func (m *Manager) cleanupIncompleteDownloads(restored []*RemoteDownloader) {
	dir := m.config.Download.IncompleteDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("Failed to scan incomplete downloads", zap.String("dir", dir), zap.Error(err))
		}
		return
	}

	inUse := make(map[string]struct{})
	for _, d := range restored {
		switch d.State() {
		case domain.StateDownloading, domain.StatePaused, domain.StateOffline:
		default:
			continue
		}
		if name := ownedEntry(dir, d.Filename()); name != "" {
			inUse[name] = struct{}{}
		}
	}

	for _, entry := range entries {
		if _, ok := inUse[entry.Name()]; ok {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := infrastructure.RemovePath(path); err != nil {
			m.logger.Warn("Failed to remove stale incomplete download",
				zap.String("path", path), zap.Error(err))
			continue
		}
		m.logger.Debug("Removed stale incomplete download", zap.String("path", path))
	}
}

// ownedEntry returns the top-level entry of dir that holds filename, or ""
// when filename lives elsewhere. Relative filenames are relative to dir.
func ownedEntry(dir, filename string) string {
	if filename == "" {
		return ""
	}
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(dir, filename)
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(filename))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return strings.SplitN(rel, string(filepath.Separator), 2)[0]
}
