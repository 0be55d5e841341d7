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

// This utility helps tests generate sample tar streams.

import (
	"archive/tar"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

// TarEntry is an entry of tar.
type TarEntry interface {
	AppendTar(tw *tar.Writer, opts BuildTarOptions) error
}

// BuildTarOptions is a set of options used during building a tar stream.
type BuildTarOptions struct {
	// Prefix is the prefix string added to each entry name (e.g. "./", "/").
	Prefix string
}

// BuildTarOption is an option used during building a tar stream.
type BuildTarOption func(o *BuildTarOptions)

// WithPrefix is an option to add a prefix string to each entry name (e.g. "./", "/").
func WithPrefix(prefix string) BuildTarOption {
	return func(o *BuildTarOptions) {
		o.Prefix = prefix
	}
}

// BuildTar builds a tar stream from a list of tar entries and returns an io.Reader.
func BuildTar(ents []TarEntry, opts ...BuildTarOption) io.Reader {
	var bo BuildTarOptions
	for _, o := range opts {
		o(&bo)
	}
	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		for _, ent := range ents {
			if err := ent.AppendTar(tw, bo); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		if err := tw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr
}

// BuildTarBytes is BuildTar materialized into memory, for fixtures that
// get wrapped in compression layers.
func BuildTarBytes(t testing.TB, ents ...TarEntry) []byte {
	t.Helper()
	b, err := io.ReadAll(BuildTar(ents))
	if err != nil {
		t.Fatalf("failed to build tar: %v", err)
	}
	return b
}

type tarEntryFunc func(*tar.Writer, BuildTarOptions) error

// AppendTar appends an entry to a tar writer.
func (f tarEntryFunc) AppendTar(tw *tar.Writer, opts BuildTarOptions) error { return f(tw, opts) }

// FileBuildTarOption is an option for a file entry.
type FileBuildTarOption func(o *fileOpts)

type fileOpts struct {
	mode    *int64
	modTime time.Time
	format  tar.Format
}

// WithFileMode specifies the mode bits of the file.
func WithFileMode(mode int64) FileBuildTarOption {
	return func(o *fileOpts) {
		o.mode = &mode
	}
}

// WithFileModTime specifies the modtime of the file.
func WithFileModTime(modTime time.Time) FileBuildTarOption {
	return func(o *fileOpts) {
		o.modTime = modTime
	}
}

// WithTarFormat pins the header encoding, which controls how names
// longer than the classic 100-byte field are written: tar.FormatGNU
// emits a GNU longname ('L') entry, tar.FormatPAX a pax extended ('x')
// record.
func WithTarFormat(format tar.Format) FileBuildTarOption {
	return func(o *fileOpts) {
		o.format = format
	}
}

// File is a regular file entry.
func File(name, contents string, opts ...FileBuildTarOption) TarEntry {
	return tarEntryFunc(func(tw *tar.Writer, buildOpts BuildTarOptions) error {
		var fOpts fileOpts
		for _, o := range opts {
			o(&fOpts)
		}
		if strings.HasSuffix(name, "/") {
			return fmt.Errorf("bogus trailing slash in file %q", name)
		}
		var mode int64 = 0644
		if fOpts.mode != nil {
			mode = *fOpts.mode
		}
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     buildOpts.Prefix + name,
			Mode:     mode,
			ModTime:  fOpts.modTime,
			Size:     int64(len(contents)),
			Format:   fOpts.format,
		}); err != nil {
			return err
		}
		_, err := io.WriteString(tw, contents)
		return err
	})
}

// Dir is a directory entry.
func Dir(name string) TarEntry {
	return tarEntryFunc(func(tw *tar.Writer, buildOpts BuildTarOptions) error {
		if !strings.HasSuffix(name, "/") {
			return fmt.Errorf("missing trailing slash in dir %q", name)
		}
		return tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     buildOpts.Prefix + name,
			Mode:     0755,
		})
	})
}

// Symlink is a symlink entry.
func Symlink(name, target string) TarEntry {
	return tarEntryFunc(func(tw *tar.Writer, buildOpts BuildTarOptions) error {
		return tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeSymlink,
			Name:     buildOpts.Prefix + name,
			Linkname: target,
			Mode:     0644,
		})
	})
}

// Link is a hard-link entry.
func Link(name, linkname string) TarEntry {
	now := time.Now()
	return tarEntryFunc(func(w *tar.Writer, buildOpts BuildTarOptions) error {
		return w.WriteHeader(&tar.Header{
			Typeflag: tar.TypeLink,
			Name:     buildOpts.Prefix + name,
			Linkname: linkname,
			ModTime:  now,
		})
	})
}

// Fifo is a fifo entry.
func Fifo(name string) TarEntry {
	now := time.Now()
	return tarEntryFunc(func(w *tar.Writer, buildOpts BuildTarOptions) error {
		return w.WriteHeader(&tar.Header{
			Typeflag: tar.TypeFifo,
			Name:     buildOpts.Prefix + name,
			ModTime:  now,
		})
	})
}
