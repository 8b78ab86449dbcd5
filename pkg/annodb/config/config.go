// Package config loads the runtime configuration from a YAML file,
// merging it over built-in defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
)

// Config is the top-level runtime configuration.
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// Workers is the parser pool size.
	Workers int `yaml:"workers"`
	// QueueDepth bounds the parsed-batch queue; small on purpose, it is
	// the backpressure mechanism, not a buffer.
	QueueDepth int `yaml:"queueDepth"`
	// InsertChunk bounds rows per INSERT statement inside a commit.
	InsertChunk int `yaml:"insertChunk"`
}

// AnalyticsConfig tunes the batched passes.
type AnalyticsConfig struct {
	// DocumentWindow is the document-id window per document-count batch.
	DocumentWindow int64 `yaml:"documentWindow"`
	// OccurrenceWindow is the occurrence-id window per TF-IDF batch.
	OccurrenceWindow int64 `yaml:"occurrenceWindow"`
	// SentenceWindow is the sentence-id window per co-occurrence batch.
	SentenceWindow int64 `yaml:"sentenceWindow"`
	// TermPage is the page size for the idf broadcast over distinct terms.
	TermPage int64 `yaml:"termPage"`
	// Readers is the parallelism of the read-only summary phase.
	Readers int `yaml:"readers"`
}

// LoggingConfig selects handler format and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Ingest: IngestConfig{
			Workers:     4,
			QueueDepth:  4,
			InsertChunk: 500,
		},
		Analytics: AnalyticsConfig{
			DocumentWindow:   100000,
			OccurrenceWindow: 100000,
			SentenceWindow:   300000,
			TermPage:         50000,
			Readers:          4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("%w: ingest.workers must be >= 1", internalerr.ErrInvalidConfig)
	}
	if c.Ingest.QueueDepth < 1 {
		return fmt.Errorf("%w: ingest.queueDepth must be >= 1", internalerr.ErrInvalidConfig)
	}
	if c.Ingest.InsertChunk < 1 {
		return fmt.Errorf("%w: ingest.insertChunk must be >= 1", internalerr.ErrInvalidConfig)
	}
	if c.Analytics.DocumentWindow < 1 || c.Analytics.OccurrenceWindow < 1 ||
		c.Analytics.SentenceWindow < 1 || c.Analytics.TermPage < 1 {
		return fmt.Errorf("%w: analytics windows must be >= 1", internalerr.ErrInvalidConfig)
	}
	if c.Analytics.Readers < 1 {
		return fmt.Errorf("%w: analytics.readers must be >= 1", internalerr.ErrInvalidConfig)
	}
	return nil
}
