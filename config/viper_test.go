package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestLoaderLoad 测试配置优先级：环境变量 > .env > 环境特定配置 > 基础配置
func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "harvest.yaml"), `
chunk:
  max_days: 14
parallel:
  max_workers: 2
  enabled: true
source:
  base_url: "http://base"
`)
	writeFile(t, filepath.Join(dir, "harvest.dev.yaml"), `
parallel:
  enabled: false
`)
	writeFile(t, filepath.Join(dir, ".env"), "HVLOAD_LOG_LEVEL=debug\n")

	t.Setenv("HVLOAD_ENV", "dev")
	t.Setenv("HVLOAD_PARALLEL_MAX_WORKERS", "8")

	loader, err := New(&Config{Name: "harvest", Paths: []string{dir}, EnvPrefix: "hvload"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, "8", loader.Get("parallel.max_workers"))
	assert.Equal(t, "debug", loader.Get("log.level"))
	assert.Equal(t, false, loader.Get("parallel.enabled"))
	assert.Equal(t, 14, loader.Get("chunk.max_days"))
	assert.Equal(t, "http://base", loader.Get("source.base_url"))
}

func TestLoaderValidate(t *testing.T) {
	t.Run("empty config", func(t *testing.T) {
		loader, err := New(&Config{Name: "missing", Paths: []string{t.TempDir()}, EnvPrefix: "HVEMPTY"})
		require.NoError(t, err)
		err = loader.Load(context.Background())
		require.Error(t, err)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("defaults only", func(t *testing.T) {
		loader, err := New(&Config{Name: "missing", Paths: []string{t.TempDir()}, EnvPrefix: "HVDEF"},
			WithDefaults(DefaultValues()))
		require.NoError(t, err)
		require.NoError(t, loader.Load(context.Background()))
		assert.NoError(t, loader.Validate())
	})
}

// TestLoaderWatch 测试文件变化通知
func TestLoaderWatch(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "watch.yaml")
	writeFile(t, file, "log:\n  level: info\n")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	loader, err := New(&Config{Name: "watch", Paths: []string{dir}, EnvPrefix: "HVWATCH"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(ctx))

	ch, err := loader.Watch(ctx, "log.level")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	writeFile(t, file, "log:\n  level: debug\n")

	select {
	case ev := <-ch:
		assert.Equal(t, "log.level", ev.Key)
		assert.Equal(t, "debug", ev.Value)
		assert.Equal(t, "info", ev.OldValue)
		assert.Equal(t, "file", ev.Source)
	case <-ctx.Done():
		t.Fatal("timed out waiting for config change")
	}
}

func TestLoaderWatchCancel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cancel.yaml"), "a: 1\n")

	loader, err := New(&Config{Name: "cancel", Paths: []string{dir}, EnvPrefix: "HVCANCEL"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(ctx, "a")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
