package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
ingest:
  workers: 8
logging:
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, "json", cfg.Logging.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Ingest.QueueDepth)
	assert.Equal(t, int64(300000), cfg.Analytics.SentenceWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero workers", "ingest:\n  workers: 0\n"},
		{"negative queue", "ingest:\n  queueDepth: -1\n"},
		{"zero window", "analytics:\n  termPage: 0\n"},
		{"zero readers", "analytics:\n  readers: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "ingest: [not a mapping"))
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
