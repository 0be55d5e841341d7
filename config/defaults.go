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

// Root defaults.
const (
	// DefaultRootPath is the default state directory.
	DefaultRootPath = "~/.deepgrep"

	// DefaultConfigPath is where deepgrep looks for its configuration
	// when no --config flag is given. A missing file at this path is
	// not an error.
	DefaultConfigPath = "~/.deepgrep/config.toml"

	defaultMetricsNetwork = "tcp"
	defaultLogLevel       = "info"
)

// SearchConfig values for Binary.
const (
	// BinarySkip drops binary files and archive members from the
	// results.
	BinarySkip = "skip"

	// BinaryText scans binary input as if it were text.
	BinaryText = "text"
)

// DecompressConfig defaults.
const (
	// DefaultZMax is the chain depth used when none is configured:
	// peel one compression layer and walk one archive format.
	DefaultZMax = 1

	// MaxZMax bounds the configurable chain depth.
	MaxZMax = 99

	defaultBlockSize = 65536
	minBlockSize     = 4096
)

// defaultBrotliExts are the suffixes treated as brotli streams.
var defaultBrotliExts = []string{".br", ".tbr"}

// CatalogConfig defaults.
const (
	defaultLRUEntries  = 256
	defaultPrewarmRate = 32
)

// TracingConfig defaults.
const (
	defaultTracingEndpoint = "localhost:4318"
)
