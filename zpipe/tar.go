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
	"bytes"
	"io"
	"strconv"

	"github.com/deepgrep/deepgrep/metrics"
)

const (
	tarBlockSize = 512
	tarMagicOff  = 257

	// metaMax bounds GNU longname and pax header bodies; anything
	// larger is treated as a broken archive.
	metaMax = 1 << 20
)

// tarMagic recognizes a POSIX ustar or GNU tar header at the start of
// b. It needs probeLen bytes to decide.
func tarMagic(b []byte) bool {
	if len(b) < probeLen || !bytes.Equal(b[tarMagicOff:tarMagicOff+5], []byte("ustar")) {
		return false
	}
	if b[tarMagicOff+5] == 0 {
		return true // POSIX "ustar\x00" + version
	}
	return b[tarMagicOff+5] == ' ' && b[tarMagicOff+6] == ' ' && b[tarMagicOff+7] == 0
}

// tar runs the inline tar walk when head carries a tar signature,
// delivering each regular member through the pipe in archive order. It
// reports whether the signature matched; once it has, the segment is
// consumed here regardless of later framing errors.
func (s *Stage) tar(head []byte, prefix string) bool {
	if !tarMagic(head) {
		return false
	}
	s.setExtracting(true)

	longName := ""
	paxName := ""
	paxSize := int64(-1)
	for {
		if s.stopped() {
			return true
		}
		if _, err := io.ReadFull(s.br, s.hdr[:]); err != nil {
			if err != io.EOF {
				s.log.WithError(err).Warn("truncated archive")
			}
			return true
		}
		if zeroBlock(s.hdr[:]) || !tarMagic(s.hdr[:]) {
			return true
		}
		size, ok := parseTarSize(s.hdr[124:136])
		if !ok {
			s.log.Warn("unreadable size in archive header")
			return true
		}

		switch s.hdr[156] {
		case 'L':
			body, ok := s.readMeta(size)
			if !ok {
				return true
			}
			longName = cstring(body)
			continue
		case 'x':
			body, ok := s.readMeta(size)
			if !ok {
				return true
			}
			p, sz, hasSize := parsePax(body)
			paxName = p
			if hasSize {
				paxSize = sz
			}
			continue
		}

		name := longName
		if name == "" {
			name = paxName
		}
		if name == "" {
			name = cstring(s.hdr[:100])
			// The ustar prefix field holds the leading path components;
			// GNU headers reuse those bytes for other purposes.
			if s.hdr[tarMagicOff+5] == 0 && s.hdr[345] != 0 {
				name = cstring(s.hdr[345:500]) + "/" + name
			}
		}
		if paxSize >= 0 {
			size = paxSize
		}
		longName, paxName, paxSize = "", "", -1

		switch s.hdr[156] {
		case '0', 0, '7':
			metrics.MembersExtracted.WithLabelValues(metrics.FormatTar).Inc()
			if !s.awaitPipe() {
				return true
			}
			s.assign(joinParts(s.sep, prefix, name))
			if !s.streamCounted(size) {
				return true
			}
			s.closeMember()
			if !s.discard(pad512(size)) {
				return true
			}
		default:
			if !s.discard(size + pad512(size)) {
				return true
			}
		}
	}
}

// streamCounted copies exactly size member bytes to the consumer,
// switching to drain on a dead pipe so the walk stays aligned for the
// members that follow. It reports false when the walk cannot continue.
func (s *Stage) streamCounted(size int64) bool {
	drain := false
	for rem := size; rem > 0; {
		if s.stopped() {
			return false
		}
		n := len(s.buf)
		if int64(n) > rem {
			n = int(rem)
		}
		rn, err := io.ReadFull(s.br, s.buf[:n])
		if rn > 0 {
			rem -= int64(rn)
			if !drain && !s.writeBody(s.buf[:rn]) {
				drain = true
				metrics.DrainEvents.Inc()
			}
		}
		if err != nil {
			s.log.WithError(err).Warn("truncated archive member")
			return false
		}
	}
	return true
}

// readMeta reads a metadata record body plus its padding.
func (s *Stage) readMeta(size int64) ([]byte, bool) {
	if size < 0 || size > metaMax {
		s.log.Warn("oversized metadata record in archive")
		return nil, false
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(s.br, body); err != nil {
		s.log.WithError(err).Warn("truncated archive")
		return nil, false
	}
	if !s.discard(pad512(size)) {
		return nil, false
	}
	return body, true
}

// parseTarSize decodes the 12-byte size field, either octal text or
// the GNU base-256 binary form flagged by the high bit.
func parseTarSize(f []byte) (int64, bool) {
	if f[0]&0x80 != 0 {
		v := int64(f[0] & 0x7f)
		for _, b := range f[1:] {
			if v > (1<<55)-1 {
				return 0, false
			}
			v = v<<8 | int64(b)
		}
		return v, true
	}
	str := string(bytes.Trim(f, " \x00"))
	if str == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(str, 8, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// parsePax extracts the path and size records from a pax extended
// header body of "<len> <key>=<value>\n" lines.
func parsePax(body []byte) (path string, size int64, hasSize bool) {
	for len(body) > 0 {
		sp := bytes.IndexByte(body, ' ')
		if sp <= 0 {
			return
		}
		reclen, err := strconv.Atoi(string(body[:sp]))
		if err != nil || reclen <= sp+1 || reclen > len(body) {
			return
		}
		rec := bytes.TrimSuffix(body[sp+1:reclen], []byte("\n"))
		body = body[reclen:]
		eq := bytes.IndexByte(rec, '=')
		if eq < 0 {
			continue
		}
		switch string(rec[:eq]) {
		case "path":
			path = string(rec[eq+1:])
		case "size":
			if v, err := strconv.ParseInt(string(rec[eq+1:]), 10, 64); err == nil && v >= 0 {
				size, hasSize = v, true
			}
		}
	}
	return
}

func pad512(size int64) int64 {
	return (tarBlockSize - size%tarBlockSize) % tarBlockSize
}

func zeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// cstring returns the bytes before the first NUL as a string.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
