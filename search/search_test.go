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

package search_test

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/deepgrep/deepgrep/search"
	"github.com/deepgrep/deepgrep/util/testutil"
)

type recordingSink struct {
	mu      sync.Mutex
	matches []search.Match
	files   map[string]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{files: make(map[string]int)}
}

func (r *recordingSink) Match(m search.Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches = append(r.matches, m)
}

func (r *recordingSink) File(path string, matches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = matches
}

// writeTree lays out the fixture tree used by most tests: plain text,
// binary data, a gzipped tar, and a zip.
func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(rel string, data []byte) {
		t.Helper()
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	write("notes.txt", []byte("alpha one\nbeta two\nalpha three\n"))
	write("skip.dat", []byte("alpha but filtered\n"))
	write("sub/log.txt", []byte("beta entry\n"))
	write("sub/data.bin", append([]byte{0x7f, 'E', 'L', 'F', 0x00, '\n'}, "alpha hidden\n"...))
	write("bundle.tar.gz", testutil.GzipBytes(t, testutil.BuildTarBytes(t,
		testutil.Dir("docs/"),
		testutil.File("docs/a.txt", "alpha inside\nplain line\n"),
		testutil.File("docs/b.md", "alpha markdown\n"),
	)))
	write("files.zip", testutil.ZipBytes(t, []testutil.ZipEntry{
		{Name: "z.txt", Body: "alpha zipped\n"},
	}))
	return dir
}

func runSearch(t *testing.T, opts search.Options, roots ...string) (*recordingSink, search.Stats) {
	t.Helper()
	ctx := testutil.ContextWithTestLogger(t)
	sink := newRecordingSink()
	s, err := search.New(opts, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stats, err := s.Search(ctx, roots)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	return sink, stats
}

// matchKeys flattens matches to sorted "relpath|member|line" strings so
// concurrent completion order does not matter.
func matchKeys(t *testing.T, dir string, ms []search.Match) []string {
	t.Helper()
	keys := make([]string, 0, len(ms))
	for _, m := range ms {
		rel, err := filepath.Rel(dir, m.Path)
		if err != nil {
			t.Fatalf("rel of %s: %v", m.Path, err)
		}
		keys = append(keys, fmt.Sprintf("%s|%s|%d", filepath.ToSlash(rel), m.Member, m.Line))
	}
	sort.Strings(keys)
	return keys
}

func assertKeys(t *testing.T, got, want []string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %v, want %v", got, want)
	}
}

func TestSearchPlainTree(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, stats := runSearch(t, search.Options{
		Pattern:   "alpha",
		Recursive: true,
		Include:   []string{"*.txt"},
	}, dir)

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"notes.txt||1",
		"notes.txt||3",
	})
	if stats.FilesMatched != 1 || stats.LinesMatched != 2 {
		t.Fatalf("stats = %+v, want 1 file / 2 lines", stats)
	}
	if stats.BytesScanned == 0 {
		t.Fatal("expected BytesScanned to be counted")
	}
	if n := sink.files[filepath.Join(dir, "notes.txt")]; n != 2 {
		t.Fatalf("per-file count = %d, want 2", n)
	}
}

func TestSearchRegexp(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, stats := runSearch(t, search.Options{
		Pattern:   "^beta",
		Recursive: true,
	}, dir)

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"notes.txt||2",
		"sub/log.txt||1",
	})
	if stats.FilesMatched != 2 {
		t.Fatalf("FilesMatched = %d, want 2", stats.FilesMatched)
	}
}

func TestSearchNonRecursive(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, _ := runSearch(t, search.Options{Pattern: "beta"}, dir)

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"notes.txt||2",
	})
}

func TestSearchArchiveMembers(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, stats := runSearch(t, search.Options{
		Pattern:    "alpha",
		Recursive:  true,
		Decompress: true,
		ZMax:       2,
	}, dir)

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"bundle.tar.gz|docs/a.txt|1",
		"bundle.tar.gz|docs/b.md|1",
		"files.zip|z.txt|1",
		"notes.txt||1",
		"notes.txt||3",
		"skip.dat||1",
	})
	if stats.FilesMatched != 4 {
		t.Fatalf("FilesMatched = %d, want 4", stats.FilesMatched)
	}
}

// Include globs judge archive members by their own names, and skipping
// a member's body must not lose the members after it.
func TestSearchIncludeFiltersMembers(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, _ := runSearch(t, search.Options{
		Pattern:    "alpha",
		Recursive:  true,
		Decompress: true,
		Include:    []string{"*.txt"},
	}, dir)

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"bundle.tar.gz|docs/a.txt|1",
		"files.zip|z.txt|1",
		"notes.txt||1",
		"notes.txt||3",
	})
}

func TestSearchBinarySkipAndOverride(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, _ := runSearch(t, search.Options{
		Pattern:   "hidden",
		Recursive: true,
	}, dir)
	if len(sink.matches) != 0 {
		t.Fatalf("binary file matched without -a: %v", sink.matches)
	}

	sink, _ = runSearch(t, search.Options{
		Pattern:    "hidden",
		Recursive:  true,
		BinaryText: true,
	}, dir)
	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"sub/data.bin||2",
	})
}

func TestSearchQuiet(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, stats := runSearch(t, search.Options{
		Pattern:   "alpha",
		Recursive: true,
		Quiet:     true,
		Workers:   1,
	}, dir)

	if len(sink.matches) != 0 || len(sink.files) != 0 {
		t.Fatalf("quiet run produced output: %v %v", sink.matches, sink.files)
	}
	if stats.FilesMatched != 1 || stats.LinesMatched != 1 {
		t.Fatalf("stats = %+v, want exactly one counted match", stats)
	}
}

func TestSearchFilesOnly(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, _ := runSearch(t, search.Options{
		Pattern:   "beta",
		Recursive: true,
		FilesOnly: true,
	}, dir)

	if len(sink.matches) != 0 {
		t.Fatalf("files-only run emitted line matches: %v", sink.matches)
	}
	want := map[string]int{
		filepath.Join(dir, "notes.txt"):      1,
		filepath.Join(dir, "sub", "log.txt"): 1,
	}
	if !reflect.DeepEqual(sink.files, want) {
		t.Fatalf("files = %v, want %v", sink.files, want)
	}
}

func TestSearchMaxCount(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, _ := runSearch(t, search.Options{
		Pattern:  "alpha",
		Include:  []string{"*.txt"},
		MaxCount: 1,
	}, dir)

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"notes.txt||1",
	})
}

func TestSearchMaxFiles(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, stats := runSearch(t, search.Options{
		Pattern:   "alpha",
		Recursive: true,
		MaxFiles:  1,
		Workers:   1,
	}, dir)

	if stats.FilesMatched != 1 {
		t.Fatalf("FilesMatched = %d, want 1", stats.FilesMatched)
	}
	if len(sink.files) != 1 {
		t.Fatalf("files = %v, want exactly one", sink.files)
	}
}

func TestSearchMaxFileSize(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	// notes.txt is over the cap; sub/log.txt is under it.
	sink, _ := runSearch(t, search.Options{
		Pattern:     "beta",
		Include:     []string{"*.txt"},
		Recursive:   true,
		MaxFileSize: 12,
	}, dir)

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"sub/log.txt||1",
	})
}

// A path named directly on the command line is searched even when it
// does not satisfy Include.
func TestSearchExplicitFileBypassesInclude(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	sink, _ := runSearch(t, search.Options{
		Pattern: "alpha",
		Include: []string{"*.txt"},
	}, filepath.Join(dir, "skip.dat"))

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"skip.dat||1",
	})
}

func TestSearchPatternModes(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "c.txt"), []byte("ab\naab\na+b\nALPHA\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tests := []struct {
		name string
		opts search.Options
		want []string
	}{
		{
			name: "regexp by default",
			opts: search.Options{Pattern: "a+b"},
			want: []string{"c.txt||1", "c.txt||2"},
		},
		{
			name: "forced literal",
			opts: search.Options{Pattern: "a+b", Literal: true},
			want: []string{"c.txt||3"},
		},
		{
			name: "case folding",
			opts: search.Options{Pattern: "alpha", IgnoreCase: true},
			want: []string{"c.txt||4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, _ := runSearch(t, tt.opts, filepath.Join(dir, "c.txt"))
			assertKeys(t, matchKeys(t, dir, sink.matches), tt.want)
		})
	}
}

// Large inputs cross the scanner's buffer many times; line accounting
// must survive that plus a compression layer on top.
func TestSearchLargeCompressedFile(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()

	// Random words are lowercase, so an uppercase needle cannot appear
	// by accident.
	text := testutil.NewTestRand(t).RandomText(20000, "NEEDLE42", 0, 9999, 19999)
	if err := os.WriteFile(filepath.Join(dir, "big.log.gz"), testutil.GzipBytes(t, []byte(text)), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	sink, _ := runSearch(t, search.Options{
		Pattern:    "NEEDLE42",
		Recursive:  true,
		Decompress: true,
	}, dir)

	assertKeys(t, matchKeys(t, dir, sink.matches), []string{
		"big.log.gz||1",
		"big.log.gz||10000",
		"big.log.gz||20000",
	})
}

type fakeCatalog struct {
	mu      sync.Mutex
	lists   map[string][]string
	records map[string][]string
}

func newFakeCatalog(lists map[string][]string) *fakeCatalog {
	return &fakeCatalog{lists: lists, records: make(map[string][]string)}
}

func (c *fakeCatalog) Members(path string, info fs.FileInfo) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if names, ok := c.lists[filepath.Base(path)]; ok {
		return names, nil
	}
	return nil, fmt.Errorf("no member list for %s: %w", path, errdefs.ErrNotFound)
}

func (c *fakeCatalog) Record(path string, info fs.FileInfo, members []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[filepath.Base(path)] = append([]string(nil), members...)
	return nil
}

// A catalog that knows an archive holds nothing matching Include lets
// the searcher skip the archive without opening it. The fixture archive
// really does hold a matching .md member; the only way to see zero
// matches is the prefilter.
func TestSearchCatalogPrefilter(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	cat := newFakeCatalog(map[string][]string{
		"bundle.tar.gz": {"docs/a.txt"},
	})
	sink, _ := runSearch(t, search.Options{
		Pattern:    "alpha",
		Recursive:  true,
		Decompress: true,
		Include:    []string{"*.md"},
		Catalog:    cat,
	}, dir)

	if len(sink.matches) != 0 {
		t.Fatalf("prefiltered archive was still searched: %v", sink.matches)
	}
}

func TestSearchRecordsMembers(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := writeTree(t)

	cat := newFakeCatalog(nil)
	runSearch(t, search.Options{
		Pattern:        "alpha",
		Recursive:      true,
		Decompress:     true,
		Catalog:        cat,
		RecordOnSearch: true,
	}, dir)

	cat.mu.Lock()
	defer cat.mu.Unlock()
	want := map[string][]string{
		"bundle.tar.gz": {"docs/a.txt", "docs/b.md"},
		"files.zip":     {"z.txt"},
	}
	if diff := cmp.Diff(cat.records, want); diff != "" {
		t.Fatalf("unexpected recorded members: %v", diff)
	}
}
