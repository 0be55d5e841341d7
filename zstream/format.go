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

package zstream

import "bytes"

// Format identifies the compression or container layout of an input
// stream, detected from its leading magic bytes.
type Format int

const (
	// FormatPlain is an input with no recognized compression layer. It is
	// passed through unmodified.
	FormatPlain Format = iota
	// FormatGzip is a gzip stream, including concatenations of multiple
	// gzip streams which decode as one continuous stream.
	FormatGzip
	// FormatBzip2 is a bzip2 stream.
	FormatBzip2
	// FormatXz is an xz stream.
	FormatXz
	// FormatZstd is a zstandard stream.
	FormatZstd
	// FormatLz4 is an lz4 frame stream.
	FormatLz4
	// FormatBrotli is a brotli stream. Brotli carries no magic bytes and
	// is selected only from a pathname hint.
	FormatBrotli
	// FormatZip is a zip container, iterated member by member in local
	// file header order.
	FormatZip
)

func (f Format) String() string {
	switch f {
	case FormatPlain:
		return "plain"
	case FormatGzip:
		return "gzip"
	case FormatBzip2:
		return "bzip2"
	case FormatXz:
		return "xz"
	case FormatZstd:
		return "zstd"
	case FormatLz4:
		return "lz4"
	case FormatBrotli:
		return "brotli"
	case FormatZip:
		return "zip"
	}
	return "unknown"
}

// sniffLen is the longest magic prefix needed to classify an input.
const sniffLen = 6

var formatMagics = []struct {
	format Format
	magic  []byte
}{
	{FormatGzip, []byte{0x1f, 0x8b}},
	{FormatZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{FormatXz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{FormatBzip2, []byte{'B', 'Z', 'h'}},
	{FormatLz4, []byte{0x04, 0x22, 0x4d, 0x18}},
	{FormatZip, []byte{'P', 'K', 0x03, 0x04}},
}

// Detect classifies an input from its first bytes. head may be shorter
// than sniffLen near EOF; unrecognized or short heads are FormatPlain.
func Detect(head []byte) Format {
	for _, m := range formatMagics {
		if !bytes.HasPrefix(head, m.magic) {
			continue
		}
		if m.format == FormatBzip2 {
			// BZh is followed by the block-size level digit.
			if len(head) < 4 || head[3] < '1' || head[3] > '9' {
				continue
			}
		}
		return m.format
	}
	return FormatPlain
}
