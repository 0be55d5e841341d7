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

package zpipe

import (
	"io"

	"github.com/deepgrep/deepgrep/metrics"
	"github.com/deepgrep/deepgrep/zstream"
)

// probeLen covers a full tar header through the magic field plus the
// larger cpio header, so one peek serves every probe.
const probeLen = 265

// extract is one producer pass: it walks every segment of the current
// input, delivers each through the pipe, and returns when the input is
// exhausted, the consumer stops asking, or the stage is stopping.
func (s *Stage) extract() {
	for {
		if s.stopped() {
			return
		}

		m, isZip := s.src.Member()
		name := s.prefix
		skip := false
		if isZip {
			s.setExtracting(true)
			if m.Dir {
				skip = true
			} else {
				name = joinParts(s.sep, s.prefix, m.Name)
			}
		}
		if s.next != nil {
			s.setExtracting(true)
		}

		if !skip {
			if !s.awaitPipe() {
				return
			}
			s.br.Reset(s.src)
			head, perr := s.br.Peek(probeLen)
			switch {
			case len(head) == 0:
				if perr != nil && perr != io.EOF {
					s.log.WithError(perr).Warn("decompression error")
				}
				// Zero-length members still need the name handshake so
				// the consumer above can label or discard them.
				if isZip || s.chained || name != "" {
					s.assign(name)
				}
			case isZip:
				metrics.MembersExtracted.WithLabelValues(metrics.FormatZip).Inc()
				s.streamPlain(name, true)
			default:
				if !s.tar(head, name) && !s.cpio(head, name) {
					metrics.MembersExtracted.WithLabelValues(metrics.FormatStream).Inc()
					s.streamPlain(name, false)
				}
			}
			s.closeMember()
		}

		if s.stopped() {
			return
		}
		err := s.src.NextSegment()
		if err == nil {
			continue
		}
		if err != io.EOF {
			s.log.WithError(err).Warn("archive iteration error")
		}
		if s.next == nil {
			return
		}
		if !s.advanceChain() {
			return
		}
	}
}

// advanceChain moves the lower stage to its next member and reopens the
// source on top of the fresh pipe. It reports false when the chain is
// exhausted or broken.
func (s *Stage) advanceChain() bool {
	s.chainIn.Close()
	rc, err := s.next.OpenNext(s.pathname)
	if err != nil {
		return false
	}
	s.chainIn = rc
	s.prefix = s.next.MemberName()
	hint := s.prefix
	if hint == "" {
		hint = s.pathname
	}
	opts := append([]zstream.Option{zstream.WithPathname(hint)}, s.srcOpts...)
	if err := s.src.Reopen(rc, opts...); err != nil {
		s.log.WithError(err).Warn("cannot reopen decompression source")
		rc.Close()
		return false
	}
	return true
}

// streamPlain copies a segment with no recognized container structure
// to the consumer. named forces a name handshake even for unchained
// stages, as zip members require. A stage feeding another always
// assigns so the consumer's name wait cannot miss, and any non-empty
// name is published for the reader's sake.
func (s *Stage) streamPlain(name string, named bool) {
	if named || s.chained || name != "" {
		s.assign(name)
	}
	for {
		n, err := s.br.Read(s.buf)
		if n > 0 {
			if !s.writeBody(s.buf[:n]) {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.log.WithError(err).Warn("decompression error")
			}
			return
		}
	}
}

// joinParts builds the logical path of a nested member.
func joinParts(sep, prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + sep + name
}
