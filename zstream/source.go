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

// Package zstream turns an arbitrary byte stream into a sequence of
// decompressed segments. A plain or singly-compressed input is one
// segment; a zip input is one segment per archive member, surfaced in
// local file header order. Compression formats are detected from magic
// bytes, so callers never need to know what they were handed.
package zstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/deepgrep/deepgrep/util/ioutils"
)

// ErrUnsupported indicates input that was recognized but cannot be
// decoded, such as a zip member stored with an unsupported method.
var ErrUnsupported = errors.New("unsupported stream encoding")

// DefaultBrotliExts are the pathname extensions that select brotli
// decoding, since brotli streams carry no magic bytes.
var DefaultBrotliExts = []string{".br", ".tbr"}

// Member describes the zip member the source is currently positioned
// at. Name keeps the separators the archive used; a trailing slash (or
// the header's directory mode bit) marks a non-regular member.
type Member struct {
	Name string
	Dir  bool
}

type options struct {
	pathname   string
	brotliExts []string
}

// Option configures Open and Reopen.
type Option func(*options)

// WithPathname supplies the display name of the input. It is only used
// as a decode hint for extension-addressed formats.
func WithPathname(name string) Option {
	return func(o *options) {
		o.pathname = name
	}
}

// WithBrotliExts overrides DefaultBrotliExts.
func WithBrotliExts(exts []string) Option {
	return func(o *options) {
		o.brotliExts = exts
	}
}

// Source reads decompressed segments from one underlying input. The
// caller owns the input reader; Close releases decoder state only.
// A Source is not safe for concurrent use.
type Source struct {
	in     *ioutils.CountingReader
	br     *bufio.Reader
	format Format
	dec    io.Reader

	// reusable decoders, allocated on first use and reset across Reopen
	gz *gzip.Reader
	zd *zstd.Decoder
	lz *lz4.Reader
	bd *brotli.Reader

	zip       *zipSegments
	member    Member
	hasMember bool

	opts options
}

// Open sniffs r and prepares the first segment for reading.
func Open(r io.Reader, opts ...Option) (*Source, error) {
	s := &Source{
		in: ioutils.NewCountingReader(r),
	}
	s.br = bufio.NewReaderSize(s.in, 32*1024)
	if err := s.open(opts...); err != nil {
		return nil, err
	}
	return s, nil
}

// Reopen points the source at a new input and re-runs format
// detection, reusing decoder allocations where the codec allows.
func (s *Source) Reopen(r io.Reader, opts ...Option) error {
	s.in.Reset(r)
	s.br.Reset(s.in)
	return s.open(opts...)
}

func (s *Source) open(opts ...Option) error {
	s.opts = options{brotliExts: DefaultBrotliExts}
	for _, o := range opts {
		o(&s.opts)
	}
	s.dec = nil
	s.zip = nil
	s.member = Member{}
	s.hasMember = false

	head, err := s.br.Peek(sniffLen)
	if err != nil && len(head) == 0 && !errors.Is(err, io.EOF) {
		return fmt.Errorf("sniffing %q: %w", s.opts.pathname, err)
	}
	s.format = Detect(head)
	if s.format == FormatPlain && s.brotliHinted() && len(head) > 0 {
		s.format = FormatBrotli
	}

	switch s.format {
	case FormatGzip:
		if s.gz == nil {
			gz, err := gzip.NewReader(s.br)
			if err != nil {
				return fmt.Errorf("gzip %q: %w", s.opts.pathname, err)
			}
			s.gz = gz
		} else if err := s.gz.Reset(s.br); err != nil {
			return fmt.Errorf("gzip %q: %w", s.opts.pathname, err)
		}
		s.dec = s.gz
	case FormatZstd:
		if s.zd == nil {
			zd, err := zstd.NewReader(s.br, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return fmt.Errorf("zstd %q: %w", s.opts.pathname, err)
			}
			s.zd = zd
		} else if err := s.zd.Reset(s.br); err != nil {
			return fmt.Errorf("zstd %q: %w", s.opts.pathname, err)
		}
		s.dec = s.zd
	case FormatBzip2:
		bz, err := bzip2.NewReader(s.br, nil)
		if err != nil {
			return fmt.Errorf("bzip2 %q: %w", s.opts.pathname, err)
		}
		s.dec = bz
	case FormatXz:
		xr, err := xz.NewReader(s.br)
		if err != nil {
			return fmt.Errorf("xz %q: %w", s.opts.pathname, err)
		}
		s.dec = xr
	case FormatLz4:
		if s.lz == nil {
			s.lz = lz4.NewReader(s.br)
		} else {
			s.lz.Reset(s.br)
		}
		s.dec = s.lz
	case FormatBrotli:
		if s.bd == nil {
			s.bd = brotli.NewReader(s.br)
		} else if err := s.bd.Reset(s.br); err != nil {
			return fmt.Errorf("brotli %q: %w", s.opts.pathname, err)
		}
		s.dec = s.bd
	case FormatZip:
		s.zip = newZipSegments(s.br)
		if err := s.advanceZip(); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("zip %q: %w", s.opts.pathname, err)
		}
	default:
		s.dec = s.br
	}
	return nil
}

func (s *Source) brotliHinted() bool {
	if s.opts.pathname == "" {
		return false
	}
	ext := strings.ToLower(path.Ext(s.opts.pathname))
	for _, e := range s.opts.brotliExts {
		if ext == e {
			return true
		}
	}
	return false
}

// Read returns decompressed bytes of the current segment, io.EOF at the
// segment's end. For zip sources a segment is one member; for all other
// formats the whole stream is a single segment.
func (s *Source) Read(p []byte) (int, error) {
	if s.format == FormatZip {
		if !s.hasMember {
			return 0, io.EOF
		}
		return s.zip.Read(p)
	}
	return s.dec.Read(p)
}

// Decompressing reports whether the source is actually removing a
// compression layer, as opposed to passing plain bytes through.
func (s *Source) Decompressing() bool {
	return s.format != FormatPlain
}

// Format is the detected input layout.
func (s *Source) Format() Format {
	return s.format
}

// Member returns the current zip member descriptor. ok is false for
// non-zip sources and once the member list is exhausted.
func (s *Source) Member() (Member, bool) {
	return s.member, s.hasMember
}

// NextSegment advances a zip source to its next member, discarding any
// unread bytes of the current one. It returns io.EOF after the last
// member, and io.EOF immediately for single-segment sources.
func (s *Source) NextSegment() error {
	if s.format != FormatZip {
		return io.EOF
	}
	return s.advanceZip()
}

func (s *Source) advanceZip() error {
	m, err := s.zip.Next()
	if err != nil {
		s.hasMember = false
		s.member = Member{}
		return err
	}
	s.member = m
	s.hasMember = true
	return nil
}

// InputOffset is the number of compressed input bytes consumed so far.
// Decoder readahead makes this an upper bound between segments rather
// than an exact stream position.
func (s *Source) InputOffset() int64 {
	return s.in.Offset() - int64(s.br.Buffered())
}

// Close releases decoder resources. It does not close the underlying
// input reader.
func (s *Source) Close() error {
	if s.zd != nil {
		s.zd.Close()
		s.zd = nil
	}
	s.dec = nil
	s.zip = nil
	s.hasMember = false
	return nil
}
