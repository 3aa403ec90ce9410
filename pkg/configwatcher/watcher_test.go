package configwatcher

import (
	"context"
	"elevenplus_backend/internal/config"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchConfig_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("storage:\n  type: minio\nmisconception:\n  batch_size: 10\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *config.Config, 1)
	go WatchConfig(ctx, file, func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	// 等待 watcher 注册完成
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte("storage:\n  type: minio\nmisconception:\n  batch_size: 25\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 25, cfg.Misconception.BatchSize)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
