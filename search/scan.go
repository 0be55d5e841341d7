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

package search

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/deepgrep/deepgrep/metrics"
	"github.com/deepgrep/deepgrep/zpipe"
)

const (
	scanBufSize    = 64 << 10
	maxLineSize    = 16 << 20
	binaryProbeLen = 8192
)

var tracer = otel.Tracer("github.com/deepgrep/deepgrep/search")

// searchFile scans one file, through the decompression pipeline when
// enabled. explicit marks a path the caller named directly, which
// bypasses Include filtering. Only errStop comes back as an error;
// per-file problems are logged and absorbed so the run keeps going.
func (s *Searcher) searchFile(ctx context.Context, fpath string, explicit bool) error {
	ctx, span := tracer.Start(ctx, "search.file")
	span.SetAttributes(attribute.String("path", fpath))
	defer span.End()

	f, err := os.Open(fpath)
	if err != nil {
		log.G(ctx).WithError(err).WithField("path", fpath).Warn("cannot open file")
		return nil
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.G(ctx).WithError(err).WithField("path", fpath).Warn("cannot stat file")
		return nil
	}

	s.filesScanned.Add(1)
	metrics.FilesSearched.Inc()

	if !s.opts.Decompress {
		res := s.scanReader(ctx, f, fpath, nil, explicit, 0)
		return s.finishFile(fpath, res.count, res.stopAll)
	}

	// A cached member list that cannot satisfy Include saves opening
	// the archive at all.
	if s.opts.Catalog != nil && len(s.opts.Include) > 0 && !explicit {
		names, err := s.opts.Catalog.Members(fpath, info)
		if err == nil && !s.anyMemberIncluded(fpath, names) {
			return nil
		}
		if err != nil && !errdefs.IsNotFound(err) {
			log.G(ctx).WithError(err).WithField("path", fpath).Debug("catalog lookup failed")
		}
	}

	st := s.acquireStage()
	defer s.releaseStage(st)

	rc, err := st.Start(ctx, s.opts.ZMax, fpath, f)
	if err != nil {
		return nil // the stage logged the cause
	}

	var (
		fileCount int
		members   []string
		complete  = true
		stopAll   bool
	)
	for {
		res := s.scanReader(ctx, rc, fpath, st, explicit, fileCount)
		rc.Close()
		fileCount += res.count
		if res.member != "" {
			members = append(members, res.member)
		}
		if res.stopAll || res.stopFile {
			stopAll = res.stopAll
			complete = false
			st.Cancel()
			break
		}
		rc, err = st.OpenNext(fpath)
		if err != nil {
			break // member set exhausted
		}
	}

	if complete && s.opts.RecordOnSearch && s.opts.Catalog != nil && st.Compressed() {
		if err := s.opts.Catalog.Record(fpath, info, members); err != nil {
			log.G(ctx).WithError(err).WithField("path", fpath).Warn("cannot record archive members")
		}
	}
	return s.finishFile(fpath, fileCount, stopAll)
}

// finishFile publishes per-file results and applies the run-wide
// matched-file budget. Quiet runs keep the counts but say nothing.
func (s *Searcher) finishFile(fpath string, count int, stopAll bool) error {
	if count > 0 {
		s.filesMatched.Add(1)
		metrics.FilesMatched.Inc()
		if !s.opts.Quiet {
			s.sink.File(fpath, count)
		}
		if s.opts.MaxFiles > 0 && s.filesMatched.Load() >= int64(s.opts.MaxFiles) {
			return errStop
		}
	}
	if stopAll {
		return errStop
	}
	return nil
}

// anyMemberIncluded reports whether an archive with the given member
// list could produce output under the Include globs. An empty list
// means a bare compressed stream, judged by the file's own name.
func (s *Searcher) anyMemberIncluded(fpath string, names []string) bool {
	if len(names) == 0 {
		return s.includeName(filepath.Base(fpath))
	}
	for _, n := range names {
		if s.includeName(path.Base(n)) {
			return true
		}
	}
	return false
}

type scanResult struct {
	count    int
	member   string
	stopFile bool
	stopAll  bool
}

// scanReader scans one stream, a whole file or one archive member,
// line by line. base is the file's match count so far, for the
// per-file limit. Abandoning the reader early is safe: archive walks
// upstream drain and stay aligned, bare streams stop.
func (s *Searcher) scanReader(ctx context.Context, r io.Reader, fpath string, st *zpipe.Stage, explicit bool, base int) scanResult {
	var res scanResult
	br := bufio.NewReaderSize(r, scanBufSize)
	head, _ := br.Peek(binaryProbeLen)
	if st != nil {
		// Valid now: the peek was the member's first read.
		res.member = st.MemberName()
	}
	if len(head) == 0 {
		return res
	}

	if len(s.opts.Include) > 0 {
		if res.member != "" && !s.includeName(path.Base(res.member)) {
			return res
		}
		if res.member == "" && !explicit && !s.includeName(filepath.Base(fpath)) {
			return res
		}
	}
	if !s.opts.BinaryText && bytes.IndexByte(head, 0) >= 0 {
		return res
	}

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, scanBufSize), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Bytes()
		s.bytesScanned.Add(int64(len(text) + 1))
		metrics.BytesSearched.Add(float64(len(text) + 1))
		if line&255 == 0 && ctx.Err() != nil {
			res.stopFile = true
			return res
		}
		if !s.matchLine(text) {
			continue
		}
		res.count++
		s.linesMatched.Add(1)
		if s.opts.Quiet {
			res.stopAll = true
			return res
		}
		if s.opts.FilesOnly {
			res.stopFile = true
			return res
		}
		s.sink.Match(Match{Path: fpath, Member: res.member, Line: line, Text: string(text)})
		if s.opts.MaxCount > 0 && base+res.count >= s.opts.MaxCount {
			res.stopFile = true
			return res
		}
	}
	if err := sc.Err(); err != nil {
		log.G(ctx).WithError(err).WithFields(log.Fields{
			"path":   fpath,
			"member": res.member,
		}).Debug("scan ended early")
	}
	return res
}
