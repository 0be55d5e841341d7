/*
   Copyright The DeepGrep Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top level deepgrep configuration, loaded from a TOML
// file. Fields left out of the file keep the defaults applied by
// NewConfig.
type Config struct {
	// Root is the state directory. The catalog database lives under it.
	// A leading "~" is expanded to the user's home directory.
	Root string `toml:"root"`

	// MetricsAddress is the address the metrics API listens on. Empty
	// disables the metrics listener.
	MetricsAddress string `toml:"metrics_address"`

	// MetricsNetwork is the type of network the metrics listener uses.
	MetricsNetwork string `toml:"metrics_network"`

	// LogLevel is the logging level ("trace", "debug", "info", ...).
	LogLevel string `toml:"log_level"`

	Search     SearchConfig     `toml:"search"`
	Decompress DecompressConfig `toml:"decompress"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Tracing    TracingConfig    `toml:"tracing"`
}

// SearchConfig configures the scanners.
type SearchConfig struct {
	// Workers is the number of concurrent file scanners. Zero means one
	// per CPU.
	Workers int `toml:"workers"`

	// MaxFileSize skips regular files larger than this many bytes.
	// Zero means unlimited.
	MaxFileSize int64 `toml:"max_file_size"`

	// Binary selects what to do with binary files: BinarySkip or
	// BinaryText.
	Binary string `toml:"binary"`
}

// DecompressConfig configures the decompression stages.
type DecompressConfig struct {
	// Enabled turns on transparent decompression of searched files.
	Enabled bool `toml:"enabled"`

	// ZMax is the maximum number of nested compression layers a stage
	// chain peels, within 1..99.
	ZMax int `toml:"zmax"`

	// BlockSize is the copy buffer size used when draining members.
	BlockSize int `toml:"block_size"`

	// BrotliExts lists the path suffixes treated as brotli streams.
	// Brotli has no magic bytes, so detection is by extension only.
	BrotliExts []string `toml:"brotli_exts"`
}

// CatalogConfig configures the archive member catalog.
type CatalogConfig struct {
	// Enabled turns on the catalog database.
	Enabled bool `toml:"enabled"`

	// LRUEntries is the size of the in-memory listing cache in front of
	// the database.
	LRUEntries int `toml:"lru_entries"`

	// RecordOnSearch records member listings as a side effect of
	// searching archives.
	RecordOnSearch bool `toml:"record_on_search"`

	// Prewarm indexes queued archives in the background.
	Prewarm bool `toml:"prewarm"`

	// PrewarmRate caps background indexing, in archives per second.
	PrewarmRate int `toml:"prewarm_rate"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled bool `toml:"enabled"`

	// Endpoint is the OTLP HTTP collector address.
	Endpoint string `toml:"endpoint"`
}

type configParser func(*Config) error

// parsers are run in order after a config file is decoded. Each one
// fills defaults for values the file may leave at zero and rejects
// values outside their documented ranges.
var parsers = []configParser{
	parseRootConfig,
	parseSearchConfig,
	parseDecompressConfig,
	parseCatalogConfig,
	parseTracingConfig,
}

// NewConfig returns a Config with all defaults applied.
func NewConfig() *Config {
	cfg := &Config{}

	// Set any defaults that do not align with Go zero values before the
	// parsers run, so a config file can still switch them off.
	initParsers := []configParser{defaultEnabledConfig}

	for _, p := range append(initParsers, parsers...) {
		// Parsers cannot fail on a zero config.
		_ = p(cfg)
	}
	return cfg
}

// NewConfigFromToml loads cfgPath on top of the defaults. A missing
// file is only an error when cfgPath is not DefaultConfigPath.
func NewConfigFromToml(cfgPath string) (*Config, error) {
	path, err := ExpandHome(cfgPath)
	if err != nil {
		return nil, err
	}

	tomlFile, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && cfgPath == DefaultConfigPath {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file %q: %w", cfgPath, err)
	}
	defer tomlFile.Close()

	cfg := NewConfig()

	// Decode on top of the defaults. Unknown fields are tolerated so a
	// newer config file keeps working with an older binary.
	if err := toml.NewDecoder(tomlFile).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", cfgPath, err)
	}

	if err := parseConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %q: %w", cfgPath, err)
	}
	return cfg, nil
}

func parseConfig(cfg *Config) error {
	for _, p := range parsers {
		if err := p(cfg); err != nil {
			return err
		}
	}
	return nil
}

func defaultEnabledConfig(cfg *Config) error {
	cfg.Decompress.Enabled = true
	cfg.Catalog.Enabled = true
	return nil
}

func parseRootConfig(cfg *Config) error {
	if cfg.Root == "" {
		cfg.Root = DefaultRootPath
	}
	if cfg.MetricsNetwork == "" {
		cfg.MetricsNetwork = defaultMetricsNetwork
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	return nil
}

func parseSearchConfig(cfg *Config) error {
	if cfg.Search.Workers < 0 {
		return fmt.Errorf("search.workers must not be negative, got %d", cfg.Search.Workers)
	}
	if cfg.Search.MaxFileSize < 0 {
		return fmt.Errorf("search.max_file_size must not be negative, got %d", cfg.Search.MaxFileSize)
	}
	if cfg.Search.Binary == "" {
		cfg.Search.Binary = BinarySkip
	}
	switch cfg.Search.Binary {
	case BinarySkip, BinaryText:
	default:
		return fmt.Errorf("search.binary must be %q or %q, got %q", BinarySkip, BinaryText, cfg.Search.Binary)
	}
	return nil
}

func parseDecompressConfig(cfg *Config) error {
	if cfg.Decompress.ZMax == 0 {
		cfg.Decompress.ZMax = DefaultZMax
	}
	if cfg.Decompress.ZMax < 1 || cfg.Decompress.ZMax > MaxZMax {
		return fmt.Errorf("decompress.zmax must be within 1..%d, got %d", MaxZMax, cfg.Decompress.ZMax)
	}
	if cfg.Decompress.BlockSize == 0 {
		cfg.Decompress.BlockSize = defaultBlockSize
	}
	if cfg.Decompress.BlockSize < minBlockSize {
		return fmt.Errorf("decompress.block_size must be at least %d, got %d", minBlockSize, cfg.Decompress.BlockSize)
	}
	if cfg.Decompress.BrotliExts == nil {
		cfg.Decompress.BrotliExts = append([]string(nil), defaultBrotliExts...)
	}
	return nil
}

func parseCatalogConfig(cfg *Config) error {
	if cfg.Catalog.LRUEntries == 0 {
		cfg.Catalog.LRUEntries = defaultLRUEntries
	}
	if cfg.Catalog.LRUEntries < 0 {
		return fmt.Errorf("catalog.lru_entries must not be negative, got %d", cfg.Catalog.LRUEntries)
	}
	if cfg.Catalog.PrewarmRate == 0 {
		cfg.Catalog.PrewarmRate = defaultPrewarmRate
	}
	if cfg.Catalog.PrewarmRate < 0 {
		return fmt.Errorf("catalog.prewarm_rate must not be negative, got %d", cfg.Catalog.PrewarmRate)
	}
	return nil
}

func parseTracingConfig(cfg *Config) error {
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = defaultTracingEndpoint
	}
	return nil
}

// RootDir resolves the state directory, expanding a leading "~".
func (c *Config) RootDir() (string, error) {
	root := c.Root
	if root == "" {
		root = DefaultRootPath
	}
	return ExpandHome(root)
}

// ExpandHome expands a leading "~" path element to the user's home
// directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory for %q: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}
