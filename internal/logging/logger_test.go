package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func readCategoryLog(t *testing.T, dir string, category Category) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*_"+string(category)+".log"))
	require.NoError(t, err)
	if len(matches) == 0 {
		return ""
	}
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestCategoriesWriteSeparateFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{Level: "debug", Dir: dir}))
	t.Cleanup(func() { _ = Initialize(Config{}) })

	Get(CategorySession).Info("tab opened", zap.String("tab", "t1"))
	Get(CategoryIdentity).Warn("regenerating identity")
	CloseAll()

	session := readCategoryLog(t, dir, CategorySession)
	assert.Contains(t, session, "tab opened")
	assert.Contains(t, session, "t1")
	assert.NotContains(t, session, "regenerating identity")
	assert.Contains(t, readCategoryLog(t, dir, CategoryIdentity), "regenerating identity")
}

func TestDisabledCategoryIsNop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{
		Level:      "debug",
		Dir:        dir,
		Categories: map[string]bool{"surface": false},
	}))
	t.Cleanup(func() { _ = Initialize(Config{}) })

	assert.False(t, IsCategoryEnabled(CategorySurface))
	assert.True(t, IsCategoryEnabled(CategoryTrust))

	Get(CategorySurface).Error("should not be written")
	CloseAll()
	assert.Empty(t, readCategoryLog(t, dir, CategorySurface))
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{Level: "warn", Dir: dir, JSON: true}))
	t.Cleanup(func() { _ = Initialize(Config{}) })

	l := Get(CategoryKeystore)
	l.Info("quiet")
	l.Warn("loud")
	CloseAll()

	out := readCategoryLog(t, dir, CategoryKeystore)
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, `"msg":"loud"`)
	assert.Contains(t, out, `"logger":"keystore"`)
}

func TestGetCachesLoggers(t *testing.T) {
	require.NoError(t, Initialize(Config{Dir: t.TempDir()}))
	t.Cleanup(func() { _ = Initialize(Config{}) })

	assert.Same(t, Get(CategoryBoot), Get(CategoryBoot))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("chatty")
	assert.Error(t, err)
	assert.Error(t, Initialize(Config{Level: "chatty"}))
}

func TestTimerStopWithThreshold(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{Level: "debug", Dir: dir}))
	t.Cleanup(func() { _ = Initialize(Config{}) })

	slow := StartTimer(CategorySurface, "page load")
	slow.start = slow.start.Add(-time.Second)
	elapsed := slow.StopWithThreshold(100 * time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, time.Second)

	StartTimer(CategorySurface, "probe").Stop()
	CloseAll()

	out := readCategoryLog(t, dir, CategorySurface)
	assert.Contains(t, out, "page load was slow")
	assert.Contains(t, out, "probe completed")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}
