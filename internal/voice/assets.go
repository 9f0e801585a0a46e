package voice

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/discord-companion/internal/logging"
)

// StartAssetCleaner starts a background goroutine that periodically scans dir
// and removes turn containers and synthesized assets older than retention,
// then enforces maxFiles by deleting the oldest remainder. The goroutine is
// tracked on wg and exits when ctx is cancelled.
func StartAssetCleaner(ctx context.Context, wg *sync.WaitGroup, dir string, retention, interval time.Duration, maxFiles int) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cleanAssets(dir, retention, maxFiles)
			}
		}
	}()
}

func cleanAssets(dir string, retention time.Duration, maxFiles int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Debugw("asset cleaner: readDir failed", "dir", dir, "err", err)
		return
	}
	type fileInfo struct {
		path string
		mod  time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, f := range files {
		if f.mod.Before(cutoff) {
			_ = os.Remove(f.path)
			removed++
		}
	}
	if maxFiles > 0 {
		left := len(files) - removed
		if left > maxFiles {
			toRemove := left - maxFiles
			count := 0
			for _, f := range files[removed:] {
				if count >= toRemove {
					break
				}
				_ = os.Remove(f.path)
				count++
			}
			removed += count
		}
	}
	if removed > 0 {
		logging.Infow("asset cleaner: removed expired assets", "dir", dir, "count", removed)
	}
}
