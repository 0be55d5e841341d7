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
)

const (
	cpioOdcMagic  = "070707"
	cpioNewcMagic = "070701"
	cpioCrcMagic  = "070702"

	cpioOdcLen  = 76
	cpioNewcLen = 110

	cpioNameMax     = 4096
	cpioTrailer     = "TRAILER!!!"
	cpioModeMask    = 0170000
	cpioModeRegular = 0100000
)

type cpioHeader struct {
	mode     int64
	nameSize int64
	fileSize int64
	newc     bool
}

// cpio runs the inline cpio walk when head opens with a well-formed
// odc or newc header. A recognizable magic followed by unparsable
// numeric fields does not commit; the segment then streams as plain
// data. Reports whether the walk ran.
func (s *Stage) cpio(head []byte, prefix string) bool {
	if _, _, ok := parseCpioHeader(head); !ok {
		return false
	}
	s.setExtracting(true)

	var hb [cpioNewcLen]byte
	for {
		if s.stopped() {
			return true
		}
		if _, err := io.ReadFull(s.br, hb[:6]); err != nil {
			// Clean EOF at a header boundary: missing trailer, tolerated.
			if err != io.EOF {
				s.log.WithError(err).Warn("truncated archive")
			}
			return true
		}
		hdrLen := cpioNewcLen
		if string(hb[:6]) == cpioOdcMagic {
			hdrLen = cpioOdcLen
		}
		if _, err := io.ReadFull(s.br, hb[6:hdrLen]); err != nil {
			s.log.WithError(err).Warn("truncated archive")
			return true
		}
		h, _, ok := parseCpioHeader(hb[:hdrLen])
		if !ok {
			s.log.Warn("unreadable archive header")
			return true
		}

		nameBuf := make([]byte, h.nameSize)
		if _, err := io.ReadFull(s.br, nameBuf); err != nil {
			s.log.WithError(err).Warn("truncated archive")
			return true
		}
		if h.newc {
			if !s.discard(pad4(cpioNewcLen + h.nameSize)) {
				return true
			}
		}
		name := cstring(nameBuf)
		if name == cpioTrailer {
			return true
		}

		if h.mode&cpioModeMask == cpioModeRegular {
			metrics.MembersExtracted.WithLabelValues(metrics.FormatCpio).Inc()
			if !s.awaitPipe() {
				return true
			}
			s.assign(joinParts(s.sep, prefix, name))
			if !s.streamCounted(h.fileSize) {
				return true
			}
			s.closeMember()
		} else if !s.discard(h.fileSize) {
			return true
		}
		if h.newc && !s.discard(pad4(h.fileSize)) {
			return true
		}
	}
}

// discard drops n bytes of archive padding or skipped content.
func (s *Stage) discard(n int64) bool {
	if n <= 0 {
		return true
	}
	if _, err := io.CopyN(io.Discard, s.br, n); err != nil {
		s.log.WithError(err).Warn("truncated archive")
		return false
	}
	return true
}

// parseCpioHeader decodes one header from the start of b, returning
// the decoded fields and the header's encoded length. It fails unless
// every numeric field parses in the format's radix and the name size
// is sane, which is also the probe that commits a segment to the walk.
func parseCpioHeader(b []byte) (cpioHeader, int, bool) {
	var h cpioHeader
	if len(b) < cpioOdcLen {
		return h, 0, false
	}
	switch string(b[:6]) {
	case cpioOdcMagic:
		// dev ino mode uid gid nlink rdev: six octal digits each, then
		// mtime(11) namesize(6) filesize(11).
		fields := []struct {
			off, n int
			dst    *int64
		}{
			{6, 6, nil}, {12, 6, nil}, {18, 6, &h.mode}, {24, 6, nil},
			{30, 6, nil}, {36, 6, nil}, {42, 6, nil}, {48, 11, nil},
			{59, 6, &h.nameSize}, {65, 11, &h.fileSize},
		}
		for _, f := range fields {
			v, ok := parseOctalField(b[f.off : f.off+f.n])
			if !ok {
				return h, 0, false
			}
			if f.dst != nil {
				*f.dst = v
			}
		}
		if h.nameSize < 1 || h.nameSize > cpioNameMax {
			return h, 0, false
		}
		return h, cpioOdcLen, true
	case cpioNewcMagic, cpioCrcMagic:
		if len(b) < cpioNewcLen {
			return h, 0, false
		}
		h.newc = true
		// ino mode uid gid nlink mtime filesize devmajor devminor
		// rdevmajor rdevminor namesize check: eight hex digits each.
		for i := 0; i < 13; i++ {
			v, ok := parseHexField(b[6+8*i : 14+8*i])
			if !ok {
				return h, 0, false
			}
			switch i {
			case 1:
				h.mode = v
			case 6:
				h.fileSize = v
			case 11:
				h.nameSize = v
			}
		}
		if h.nameSize < 1 || h.nameSize > cpioNameMax {
			return h, 0, false
		}
		return h, cpioNewcLen, true
	}
	return h, 0, false
}

func parseOctalField(b []byte) (int64, bool) {
	var v int64
	for _, c := range b {
		if c < '0' || c > '7' {
			return 0, false
		}
		v = v<<3 | int64(c-'0')
	}
	return v, true
}

func parseHexField(b []byte) (int64, bool) {
	var v int64
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | int64(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | int64(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | int64(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}

func pad4(n int64) int64 {
	return (4 - n%4) % 4
}
