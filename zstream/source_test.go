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

package zstream_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/deepgrep/deepgrep/util/testutil"
	"github.com/deepgrep/deepgrep/zstream"
)

func TestSourceRoundTrip(t *testing.T) {
	payload := testutil.NewTestRand(t).RandomByteData(128 << 10)

	identity := func(_ testing.TB, b []byte) []byte { return b }
	tests := []struct {
		name       string
		path       string
		build      func(testing.TB, []byte) []byte
		format     zstream.Format
		decompress bool
	}{
		{name: "plain", path: "f.bin", build: identity, format: zstream.FormatPlain},
		{name: "gzip", path: "f.gz", build: testutil.GzipBytes, format: zstream.FormatGzip, decompress: true},
		{name: "bzip2", path: "f.bz2", build: testutil.Bzip2Bytes, format: zstream.FormatBzip2, decompress: true},
		{name: "xz", path: "f.xz", build: testutil.XzBytes, format: zstream.FormatXz, decompress: true},
		{name: "zstd", path: "f.zst", build: testutil.ZstdBytes, format: zstream.FormatZstd, decompress: true},
		{name: "lz4", path: "f.lz4", build: testutil.Lz4Bytes, format: zstream.FormatLz4, decompress: true},
		{name: "brotli", path: "f.br", build: testutil.BrotliBytes, format: zstream.FormatBrotli, decompress: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := zstream.Open(bytes.NewReader(tt.build(t, payload)), zstream.WithPathname(tt.path))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer src.Close()
			if src.Format() != tt.format {
				t.Fatalf("Format() = %v, want %v", src.Format(), tt.format)
			}
			if src.Decompressing() != tt.decompress {
				t.Errorf("Decompressing() = %v, want %v", src.Decompressing(), tt.decompress)
			}
			got, err := io.ReadAll(src)
			if err != nil {
				t.Fatalf("read segment: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("round trip lost data: got %d bytes, want %d", len(got), len(payload))
			}
			if err := src.NextSegment(); !errors.Is(err, io.EOF) {
				t.Errorf("NextSegment() = %v, want io.EOF for a single-segment source", err)
			}
		})
	}
}

// Concatenated gzip streams decode as one segment, the transparent
// multistream behavior of the format.
func TestSourceGzipMultistream(t *testing.T) {
	joined := append(testutil.GzipBytes(t, []byte("first half ")), testutil.GzipBytes(t, []byte("second half"))...)
	src, err := zstream.Open(bytes.NewReader(joined))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()
	got, err := io.ReadAll(src)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "first half second half" {
		t.Fatalf("got %q", got)
	}
}

// Brotli has no magic bytes; only the pathname extension selects it,
// and without the hint the same bytes pass through as plain.
func TestSourceBrotliHint(t *testing.T) {
	compressed := testutil.BrotliBytes(t, []byte("needs a hint"))

	src, err := zstream.Open(bytes.NewReader(compressed), zstream.WithPathname("notes.txt"))
	if err != nil {
		t.Fatalf("Open without hint: %v", err)
	}
	if src.Format() != zstream.FormatPlain {
		t.Errorf("Format() without hint = %v, want plain", src.Format())
	}
	src.Close()

	src, err = zstream.Open(bytes.NewReader(compressed), zstream.WithPathname("notes.TBR"))
	if err != nil {
		t.Fatalf("Open with hint: %v", err)
	}
	defer src.Close()
	got, err := io.ReadAll(src)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "needs a hint" {
		t.Fatalf("got %q", got)
	}

	src2, err := zstream.Open(bytes.NewReader(compressed),
		zstream.WithPathname("notes.tbr"), zstream.WithBrotliExts([]string{".whatever"}))
	if err != nil {
		t.Fatalf("Open with overridden exts: %v", err)
	}
	defer src2.Close()
	if src2.Format() != zstream.FormatPlain {
		t.Errorf("Format() with overridden exts = %v, want plain", src2.Format())
	}
}

func TestSourceReopenReusesDecoders(t *testing.T) {
	src, err := zstream.Open(bytes.NewReader(testutil.GzipBytes(t, []byte("one"))), zstream.WithPathname("a.gz"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	inputs := []struct {
		data []byte
		path string
		want string
	}{
		{data: testutil.ZstdBytes(t, []byte("two")), path: "b.zst", want: "two"},
		{data: testutil.GzipBytes(t, []byte("three")), path: "c.gz", want: "three"},
		{data: []byte("four"), path: "d.txt", want: "four"},
		{data: testutil.Lz4Bytes(t, []byte("five")), path: "e.lz4", want: "five"},
	}
	got, err := io.ReadAll(src)
	if err != nil || string(got) != "one" {
		t.Fatalf("first segment = (%q, %v)", got, err)
	}
	for _, in := range inputs {
		if err := src.Reopen(bytes.NewReader(in.data), zstream.WithPathname(in.path)); err != nil {
			t.Fatalf("Reopen %q: %v", in.path, err)
		}
		got, err := io.ReadAll(src)
		if err != nil {
			t.Fatalf("read %q: %v", in.path, err)
		}
		if string(got) != in.want {
			t.Errorf("%q = %q, want %q", in.path, got, in.want)
		}
	}
}

func TestSourceZipSegments(t *testing.T) {
	archive := testutil.ZipBytes(t, []testutil.ZipEntry{
		{Name: "a.txt", Body: "alpha"},
		{Name: "sub/", Body: ""},
		{Name: "sub/b.txt", Body: "beta", Store: true},
	})
	src, err := zstream.Open(bytes.NewReader(archive), zstream.WithPathname("two.zip"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()
	if src.Format() != zstream.FormatZip {
		t.Fatalf("Format() = %v, want zip", src.Format())
	}

	type seg struct {
		name string
		dir  bool
		body string
	}
	var got []seg
	for {
		m, ok := src.Member()
		if !ok {
			break
		}
		body, err := io.ReadAll(src)
		if err != nil {
			t.Fatalf("read %q: %v", m.Name, err)
		}
		got = append(got, seg{name: m.Name, dir: m.Dir, body: string(body)})
		if err := src.NextSegment(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("NextSegment: %v", err)
			}
			break
		}
	}
	want := []seg{
		{name: "a.txt", body: "alpha"},
		{name: "sub/", dir: true},
		{name: "sub/b.txt", body: "beta"},
	}
	if len(got) != len(want) {
		t.Fatalf("segments = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// Members are delivered in local header order even when a reader stops
// mid-member; the remainder is skipped on advance.
func TestSourceZipSkipsUnreadBody(t *testing.T) {
	big := string(testutil.NewTestRand(t).RandomByteData(64 << 10))
	archive := testutil.ZipBytes(t, []testutil.ZipEntry{
		{Name: "big.bin", Body: big},
		{Name: "after.txt", Body: "still here"},
	})
	src, err := zstream.Open(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	buf := make([]byte, 10)
	if _, err := io.ReadFull(src, buf); err != nil {
		t.Fatalf("partial read: %v", err)
	}
	if err := src.NextSegment(); err != nil {
		t.Fatalf("NextSegment: %v", err)
	}
	m, ok := src.Member()
	if !ok || m.Name != "after.txt" {
		t.Fatalf("Member() = (%+v, %v), want after.txt", m, ok)
	}
	body, err := io.ReadAll(src)
	if err != nil || string(body) != "still here" {
		t.Fatalf("second member = (%q, %v)", body, err)
	}
}

func TestSourceEmptyInput(t *testing.T) {
	src, err := zstream.Open(bytes.NewReader(nil), zstream.WithPathname("empty"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()
	if src.Format() != zstream.FormatPlain {
		t.Errorf("Format() = %v, want plain", src.Format())
	}
	if n, err := src.Read(make([]byte, 16)); n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Read = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestSourceCorruptOpenFails(t *testing.T) {
	// A gzip magic with a mangled header must fail at Open, not at the
	// first read.
	corrupt := []byte{0x1f, 0x8b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if _, err := zstream.Open(bytes.NewReader(corrupt), zstream.WithPathname("bad.gz")); err == nil {
		t.Fatal("Open accepted a corrupt gzip header")
	}
}
