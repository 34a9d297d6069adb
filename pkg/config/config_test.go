package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCredentialPair(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bluesky.Identifier = "alice.bsky.social"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "together")

	cfg.Bluesky.AppPassword = "abcd-efgh-ijkl-mnop"
	assert.NoError(t, cfg.Validate())

	// Fully public mode is also fine
	cfg.Bluesky.Identifier = ""
	cfg.Bluesky.AppPassword = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Download.ConcurrentDownloads = 0
	cfg.RateLimit.RequestsPerMinute = -1
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrent downloads")
	assert.Contains(t, err.Error(), "requests per minute")
	assert.Contains(t, err.Error(), "log level")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BSKYGRAB_IDENTIFIER", "env.bsky.social")
	t.Setenv("BSKYGRAB_APP_PASSWORD", "abcd-efgh-ijkl-mnop")
	t.Setenv("BSKYGRAB_OUTPUT_DIR", "/tmp/media")
	t.Setenv("BSKYGRAB_CONCURRENT_DOWNLOADS", "5")
	t.Setenv("BSKYGRAB_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env.bsky.social", cfg.Bluesky.Identifier)
	assert.Equal(t, "abcd-efgh-ijkl-mnop", cfg.Bluesky.AppPassword)
	assert.Equal(t, "/tmp/media", cfg.Output.BaseDirectory)
	assert.Equal(t, 5, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
bluesky:
  identifier: file.bsky.social
  app_password: abcd-efgh-ijkl-mnop
output:
  base_directory: ./archive
download:
  concurrent_downloads: 2
  download_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "file.bsky.social", cfg.Bluesky.Identifier)
	assert.Equal(t, "./archive", cfg.Output.BaseDirectory)
	assert.Equal(t, 2, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, 45*time.Second, cfg.Download.DownloadTimeout)
}

func TestLoadFromFileMissingIsNotFatal(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.LoadFromFile(""))
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"identifier":   "flag.bsky.social",
		"app-password": "abcd-efgh-ijkl-mnop",
		"output":       "/flag/out",
		"concurrent":   7,
		"log-level":    "warn",
	})

	assert.Equal(t, "flag.bsky.social", cfg.Bluesky.Identifier)
	assert.Equal(t, "/flag/out", cfg.Output.BaseDirectory)
	assert.Equal(t, 7, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Bluesky.Identifier = "saved.bsky.social"
	cfg.Bluesky.AppPassword = "abcd-efgh-ijkl-mnop"
	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "saved.bsky.social", loaded.Bluesky.Identifier)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0600))

	t.Setenv("BSKYGRAB_LOG_LEVEL", "warn")

	cfg, err := Load(path, map[string]interface{}{"log-level": "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level, "flags beat env beats file")

	cfg, err = Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level, "env beats file")
}
