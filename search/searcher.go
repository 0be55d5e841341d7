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

// Package search walks file trees and scans files, optionally through
// the decompression pipeline, for a pattern. One Searcher runs one
// Search at a time; the worker pool and stage reuse live inside.
package search

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"regexp"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
	"golang.org/x/sync/errgroup"

	"github.com/deepgrep/deepgrep/metrics"
	"github.com/deepgrep/deepgrep/zpipe"
	"github.com/deepgrep/deepgrep/zstream"
)

// errStop ends a run early once the requested amount of output exists.
// It never surfaces to callers.
var errStop = errors.New("stopping early")

// Match is one matching line.
type Match struct {
	Path   string
	Member string // logical member path inside archives, empty otherwise
	Line   int    // 1-based within the member
	Text   string
}

// Sink receives results as they are found. Match arrives per matching
// line; File arrives once per file with at least one match, after that
// file is finished. Both may be called from multiple goroutines.
type Sink interface {
	Match(m Match)
	File(path string, matches int)
}

// Cataloger answers member-list queries for previously indexed
// archives. Implementations must be safe for concurrent use.
type Cataloger interface {
	Members(path string, info fs.FileInfo) ([]string, error)
	Record(path string, info fs.FileInfo, members []string) error
}

// Options configures a Searcher. The zero value searches for nothing;
// at minimum Pattern must be set.
type Options struct {
	Pattern    string
	Literal    bool // treat Pattern as a fixed string
	IgnoreCase bool

	Recursive   bool
	Include     []string // base-name globs; empty means everything
	Decompress  bool     // look inside compressed files and archives
	ZMax        int      // compression layers to strip, minimum 1
	BinaryText  bool     // scan binary data as text instead of skipping
	MaxFileSize int64    // skip larger files, 0 for unlimited

	Quiet     bool // stop the whole run at the first match
	FilesOnly bool // stop each file at its first match
	MaxCount  int  // per-file matching line limit, 0 for unlimited
	MaxFiles  int  // matched file limit across the run, 0 for unlimited

	Workers    int
	Separator  string
	BlockSize  int
	BrotliExts []string

	Catalog        Cataloger // optional archive member index
	RecordOnSearch bool      // index archives while searching them
}

// Stats summarizes one Search call.
type Stats struct {
	FilesScanned int64
	FilesMatched int64
	LinesMatched int64
	BytesScanned int64
	Elapsed      time.Duration
}

// Searcher scans files for one compiled pattern.
type Searcher struct {
	opts Options
	sink Sink

	re  *regexp.Regexp
	lit []byte // fixed-string fast path when non-nil

	stageOpts []zpipe.Option
	pool      chan *zpipe.Stage

	filesScanned atomic.Int64
	filesMatched atomic.Int64
	linesMatched atomic.Int64
	bytesScanned atomic.Int64
}

// New compiles the pattern and prepares a Searcher. A pattern without
// regexp metacharacters and without case folding is matched by plain
// substring search.
func New(opts Options, sink Sink) (*Searcher, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.ZMax < 1 {
		opts.ZMax = 1
	}
	if opts.Separator == "" {
		opts.Separator = ":"
	}

	s := &Searcher{opts: opts, sink: sink}
	fixed := opts.Literal || opts.Pattern == regexp.QuoteMeta(opts.Pattern)
	if fixed && !opts.IgnoreCase {
		s.lit = []byte(opts.Pattern)
	} else {
		expr := opts.Pattern
		if opts.Literal {
			expr = regexp.QuoteMeta(expr)
		}
		if opts.IgnoreCase {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		s.re = re
	}

	if opts.BlockSize > 0 {
		s.stageOpts = append(s.stageOpts, zpipe.WithBlockSize(opts.BlockSize))
	}
	s.stageOpts = append(s.stageOpts, zpipe.WithSeparator(opts.Separator))
	if len(opts.BrotliExts) > 0 {
		s.stageOpts = append(s.stageOpts, zpipe.WithSourceOptions(zstream.WithBrotliExts(opts.BrotliExts)))
	}
	return s, nil
}

// Search walks roots and scans every eligible file. Root entries that
// are plain files are searched whether or not they match Include.
func (s *Searcher) Search(ctx context.Context, roots []string) (Stats, error) {
	start := time.Now()
	defer metrics.MeasureSearchLatency(start)

	s.filesScanned.Store(0)
	s.filesMatched.Store(0)
	s.linesMatched.Store(0)
	s.bytesScanned.Store(0)
	s.pool = make(chan *zpipe.Stage, s.opts.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, root := range roots {
		if err := s.walk(gctx, g, root); err != nil {
			break
		}
	}
	err := g.Wait()
	s.drainStages()

	stats := Stats{
		FilesScanned: s.filesScanned.Load(),
		FilesMatched: s.filesMatched.Load(),
		LinesMatched: s.linesMatched.Load(),
		BytesScanned: s.bytesScanned.Load(),
		Elapsed:      time.Since(start),
	}
	if err != nil && !errors.Is(err, errStop) {
		return stats, err
	}
	return stats, nil
}

func (s *Searcher) walk(ctx context.Context, g *errgroup.Group, root string) error {
	top := true
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.G(ctx).WithError(err).WithField("path", path).Warn("skipping unreadable entry")
			return nil
		}
		if d.IsDir() {
			if top || s.opts.Recursive {
				top = false
				return nil
			}
			return fs.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if s.opts.MaxFileSize > 0 {
			if info, err := d.Info(); err == nil && info.Size() > s.opts.MaxFileSize {
				return nil
			}
		}
		// Explicitly named files are searched regardless of Include; the
		// filter applies to what the walk discovers. With decompression
		// on, the decision moves inside, where member names are known.
		explicit := path == root
		if !explicit && !s.opts.Decompress && !s.includeName(filepath.Base(path)) {
			return nil
		}
		g.Go(func() error {
			return s.searchFile(ctx, path, explicit)
		})
		return nil
	})
}

// includeName reports whether a base name passes the Include globs.
func (s *Searcher) includeName(base string) bool {
	if len(s.opts.Include) == 0 {
		return true
	}
	for _, pat := range s.opts.Include {
		if ok, err := filepath.Match(pat, base); err == nil && ok {
			return true
		}
	}
	return false
}

// matchLine is the hot path: fixed-string when possible, regexp
// otherwise.
func (s *Searcher) matchLine(line []byte) bool {
	if s.lit != nil {
		return bytes.Contains(line, s.lit)
	}
	return s.re.Match(line)
}

// acquireStage hands out a parked stage, growing the pool up to the
// worker count. Reuse keeps worker goroutine churn at zero on long
// runs.
func (s *Searcher) acquireStage() *zpipe.Stage {
	select {
	case st := <-s.pool:
		return st
	default:
		return zpipe.New(s.stageOpts...)
	}
}

func (s *Searcher) releaseStage(st *zpipe.Stage) {
	select {
	case s.pool <- st:
	default:
		st.Join()
	}
}

func (s *Searcher) drainStages() {
	for {
		select {
		case st := <-s.pool:
			st.Join()
		default:
			return
		}
	}
}
