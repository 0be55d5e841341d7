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

package testutil

// Single-layer compression wrappers for building fixtures. Nest calls
// for multi-layer inputs, e.g. GzipBytes(t, GzipBytes(t, data)).

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// GzipBytes wraps b in one gzip layer.
func GzipBytes(t testing.TB, b []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	gw := gzip.NewWriter(buf)
	if _, err := gw.Write(b); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// Bzip2Bytes wraps b in one bzip2 layer.
func Bzip2Bytes(t testing.TB, b []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	bw, err := bzip2.NewWriter(buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		t.Fatalf("bzip2 writer: %v", err)
	}
	if _, err := bw.Write(b); err != nil {
		t.Fatalf("bzip2 write: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("bzip2 close: %v", err)
	}
	return buf.Bytes()
}

// XzBytes wraps b in one xz layer.
func XzBytes(t testing.TB, b []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	xw, err := xz.NewWriter(buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	if _, err := xw.Write(b); err != nil {
		t.Fatalf("xz write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	return buf.Bytes()
}

// ZstdBytes wraps b in one zstd layer.
func ZstdBytes(t testing.TB, b []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw, err := zstd.NewWriter(buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write(b); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

// Lz4Bytes wraps b in one lz4 frame layer.
func Lz4Bytes(t testing.TB, b []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	lw := lz4.NewWriter(buf)
	if _, err := lw.Write(b); err != nil {
		t.Fatalf("lz4 write: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("lz4 close: %v", err)
	}
	return buf.Bytes()
}

// BrotliBytes wraps b in one brotli layer.
func BrotliBytes(t testing.TB, b []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	bw := brotli.NewWriter(buf)
	if _, err := bw.Write(b); err != nil {
		t.Fatalf("brotli write: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("brotli close: %v", err)
	}
	return buf.Bytes()
}

// ZipEntry is one member of a zip fixture. A name with a trailing slash
// is a directory. Members deflate unless Store is set.
type ZipEntry struct {
	Name  string
	Body  string
	Store bool
}

// ZipBytes builds a zip archive in memory.
func ZipBytes(t testing.TB, ents []ZipEntry) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, e := range ents {
		method := uint16(zip.Deflate)
		if e.Store {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   e.Name,
			Method: method,
		})
		if err != nil {
			t.Fatalf("zip header %q: %v", e.Name, err)
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("zip write %q: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}
