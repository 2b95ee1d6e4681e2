package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// graphSuffix marks files owned by FileBridge.
const graphSuffix = ".graph.json"

// FileBridge stores each graph as one file in the cache directory.
// Writes go through a temporary file and a rename, so readers never see a
// partial graph.
type FileBridge struct{}

// NewFileBridge returns a FileBridge.
func NewFileBridge() *FileBridge {
	return &FileBridge{}
}

func (b *FileBridge) path(dir, key string) string {
	return filepath.Join(dir, fileName(key)+graphSuffix)
}

// Load implements Bridge.
func (b *FileBridge) Load(ctx context.Context, dir, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(b.path(dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cache entry: %w", err)
	}
	return data, true, nil
}

// Save implements Bridge.
func (b *FileBridge) Save(ctx context.Context, dir, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := writeFileAtomic(b.path(dir, key), data, 0o644); err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

// List implements Maintainer. Entries are ordered by modification time,
// newest last.
func (b *FileBridge) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	des, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	var entries []Entry
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, graphSuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Key:     strings.TrimSuffix(name, graphSuffix),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.Before(entries[j].ModTime)
		}
		return entries[i].Key < entries[j].Key
	})
	for i := range entries {
		entries[i].Seq = int64(i + 1)
	}
	return entries, nil
}

// Clear implements Maintainer. Only graph files are removed.
func (b *FileBridge) Clear(ctx context.Context, dir string) (int, error) {
	entries, err := b.List(ctx, dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := os.Remove(filepath.Join(dir, e.Key+graphSuffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("clear cache: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Close implements Store.
func (b *FileBridge) Close() error { return nil }

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
