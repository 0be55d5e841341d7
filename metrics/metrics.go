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

// Package metrics defines the process-wide prometheus collectors.
// Register installs them on the default registry exactly once; the
// metrics endpoint of the CLI serves that registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "deepgrep"

	subsystemPipe    = "pipe"
	subsystemSearch  = "search"
	subsystemCatalog = "catalog"
)

// Label values for MembersExtracted.
const (
	FormatTar    = "tar"
	FormatCpio   = "cpio"
	FormatZip    = "zip"
	FormatStream = "stream"
)

var (
	// WorkerSpawns counts decompression worker goroutine creations.
	// Stages reuse their worker across inputs, so this should track the
	// number of stages, not the number of files.
	WorkerSpawns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemPipe,
		Name:      "worker_spawns_total",
		Help:      "Number of decompression worker goroutines created.",
	})

	// MembersExtracted counts members delivered through member pipes,
	// broken down by the container format they came from.
	MembersExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemPipe,
		Name:      "members_extracted_total",
		Help:      "Number of archive members and streams delivered to consumers.",
	}, []string{"format"})

	// PipeBytes counts decompressed bytes handed to consumers.
	PipeBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemPipe,
		Name:      "bytes_total",
		Help:      "Decompressed bytes written to member pipes.",
	})

	// DrainEvents counts members whose consumer stopped reading early
	// while an archive walk had to keep consuming for alignment.
	DrainEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemPipe,
		Name:      "drain_events_total",
		Help:      "Archive members drained after the consumer stopped reading.",
	})

	// ChainDepth observes the requested decompression depth per input.
	ChainDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystemPipe,
		Name:      "chain_depth",
		Help:      "Decompression stage chain depth requested per input.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8},
	})

	FilesSearched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemSearch,
		Name:      "files_total",
		Help:      "Files and archive members scanned for the pattern.",
	})

	FilesMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemSearch,
		Name:      "files_matched_total",
		Help:      "Files and archive members with at least one match.",
	})

	BytesSearched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemSearch,
		Name:      "bytes_total",
		Help:      "Bytes scanned for the pattern.",
	})

	searchLatencyMilliseconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystemSearch,
		Name:      "latency_milliseconds",
		Help:      "End to end latency of one search invocation.",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	})

	CatalogHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemCatalog,
		Name:      "hits_total",
		Help:      "Catalog lookups answered from a stored record.",
	})

	CatalogMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemCatalog,
		Name:      "misses_total",
		Help:      "Catalog lookups with no stored record.",
	})
)

var register sync.Once

// Register registers the collectors on the default prometheus
// registry. Safe to call from multiple entry points.
func Register() {
	register.Do(func() {
		prometheus.MustRegister(WorkerSpawns)
		prometheus.MustRegister(MembersExtracted)
		prometheus.MustRegister(PipeBytes)
		prometheus.MustRegister(DrainEvents)
		prometheus.MustRegister(ChainDepth)
		prometheus.MustRegister(FilesSearched)
		prometheus.MustRegister(FilesMatched)
		prometheus.MustRegister(BytesSearched)
		prometheus.MustRegister(searchLatencyMilliseconds)
		prometheus.MustRegister(CatalogHits)
		prometheus.MustRegister(CatalogMisses)
	})
}

// MeasureSearchLatency records the elapsed time of one search
// invocation started at start.
func MeasureSearchLatency(start time.Time) {
	searchLatencyMilliseconds.Observe(float64(time.Since(start).Milliseconds()))
}
