package mirror

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"mirrord/internal/layout"
)

// rotate runs first-contact rotation for a freshly registered source: a
// mirror left by an earlier process is moved into the history directory
// before any save can overwrite it. With no mirror present, an empty history
// directory is removed.
func (m *Manager) rotate(rec *record) error {
	mirror := m.dir.MirrorPath(rec.id)
	histDir := m.dir.HistoryDir(rec.id)

	info, err := os.Stat(mirror)
	if errors.Is(err, fs.ErrNotExist) {
		return removeIfEmpty(histDir)
	}
	if err != nil {
		return fmt.Errorf("stat mirror: %w", err)
	}

	if err := os.MkdirAll(histDir, 0o750); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	dst := m.dir.NewHistoryPath(rec.id)
	if err := copyFile(mirror, dst, info, m.cfg.FileMode); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("copy mirror into history: %w", err)
	}
	if err := os.Remove(mirror); err != nil {
		return fmt.Errorf("remove rotated mirror: %w", err)
	}
	m.logger.Info("mirror rotated into history", "source", rec.identifier, "path", dst)

	if m.cfg.HistoryLimit > 0 {
		m.pruneHistory(rec)
	}
	return nil
}

// pruneHistory deletes the oldest history files beyond the configured limit.
func (m *Manager) pruneHistory(rec *record) {
	files, err := m.listHistory(rec.id)
	if err != nil {
		m.logger.Warn("list history for pruning", "source", rec.identifier, "error", err)
		return
	}
	if len(files) <= m.cfg.HistoryLimit {
		return
	}
	for _, f := range files[m.cfg.HistoryLimit:] {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("prune history file", "source", rec.identifier, "path", f.Path, "error", err)
			continue
		}
		m.logger.Debug("history file pruned", "source", rec.identifier, "path", f.Path)
	}
}

func (m *Manager) listHistory(id string) ([]HistoryFile, error) {
	return ListHistory(m.dir, id)
}

// ListHistory returns the history files for an ID, newest first. Entries
// with equal modification times are ordered by name, descending; UUIDv7
// names make that creation order. A missing directory yields no files.
func ListHistory(d layout.Dir, id string) ([]HistoryFile, error) {
	dir := d.HistoryDir(id)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	files := make([]HistoryFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !d.IsMirrorName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Deleted between ReadDir and Info.
			continue
		}
		files = append(files, HistoryFile{
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	slices.SortFunc(files, func(a, b HistoryFile) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(b.Path, a.Path)
	})
	return files, nil
}

func (m *Manager) removeHistory(rec *record) (bool, error) {
	return purgeHistory(m.dir, rec.id, m.logger.With("source", rec.identifier))
}

// purgeHistory deletes every listed history file and then the directory.
// Returns whether every file was deleted.
func purgeHistory(d layout.Dir, id string, logger *slog.Logger) (bool, error) {
	files, err := ListHistory(d, id)
	if err != nil {
		return false, err
	}
	all := true
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("remove history file", "path", f.Path, "error", err)
			all = false
		}
	}
	if err := removeIfEmpty(d.HistoryDir(id)); err != nil {
		logger.Debug("history directory kept", "error", err)
	}
	logger.Info("history removed", "id", id, "files", len(files), "complete", all)
	return all, nil
}

// removeIfEmpty removes dir if it exists and has no entries.
func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// copyFile copies src to dst and carries over the modification time, so
// rotated history keeps the time the snapshot was written.
func copyFile(src, dst string, info fs.FileInfo, mode os.FileMode) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
