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

package catalog

import (
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(DBPath(t.TempDir()), 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeFixture(t *testing.T, dir, name string, data []byte) (string, fs.FileInfo) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", name, err)
	}
	return path, info
}

func TestCatalogRecordLookup(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := openTestCatalog(t)
	path, info := writeFixture(t, t.TempDir(), "bundle.tar.gz", []byte("not really an archive"))

	members := []Member{
		{Name: "docs/a.txt", Offset: 42},
		{Name: "docs/b.md"},
	}
	if err := c.RecordMembers(path, info, true, members); err != nil {
		t.Fatalf("RecordMembers: %v", err)
	}

	names, err := c.Members(path, info)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if want := []string{"docs/a.txt", "docs/b.md"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}

	e, err := c.Lookup(path)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Size != info.Size() || e.ModTime.UnixNano() != info.ModTime().UnixNano() {
		t.Fatalf("identity mismatch: %+v vs %d/%d", e, info.Size(), info.ModTime().UnixNano())
	}
	if !e.Compressed {
		t.Fatal("expected a compressed listing")
	}
	if diff := cmp.Diff(e.Members, members); diff != "" {
		t.Fatalf("unexpected members: %v", diff)
	}

	count := 0
	if err := c.Walk(func(Entry) error { count++; return nil }); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if count != 1 {
		t.Fatalf("Walk visited %d entries, want 1", count)
	}
}

func TestCatalogMiss(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := openTestCatalog(t)
	path, info := writeFixture(t, t.TempDir(), "unknown.zip", []byte("xx"))

	if _, err := c.Members(path, info); !errdefs.IsNotFound(err) {
		t.Fatalf("Members on empty catalog = %v, want not found", err)
	}
	if _, err := c.Lookup(path); !errdefs.IsNotFound(err) {
		t.Fatalf("Lookup on empty catalog = %v, want not found", err)
	}
}

// A file whose mtime moved stops matching its key; the lookup misses
// and the orphaned listing is dropped through the path index.
func TestCatalogStaleEntryDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := openTestCatalog(t)
	path, info := writeFixture(t, t.TempDir(), "moving.tgz", []byte("abc"))

	if err := c.Record(path, info, []string{"one"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	later := info.ModTime().Add(3 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	fresh, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if _, err := c.Members(path, fresh); !errdefs.IsNotFound(err) {
		t.Fatalf("Members after touch = %v, want not found", err)
	}
	if _, err := c.Lookup(path); !errdefs.IsNotFound(err) {
		t.Fatalf("stale listing survived the miss: %v", err)
	}
}

func TestCatalogRecordReplacesOldListing(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := openTestCatalog(t)
	dir := t.TempDir()
	path, info := writeFixture(t, dir, "v.tar", []byte("v1"))

	if err := c.Record(path, info, []string{"alpha"}); err != nil {
		t.Fatalf("Record v1: %v", err)
	}

	path, info = writeFixture(t, dir, "v.tar", []byte("v2 with more bytes"))
	if err := c.Record(path, info, []string{"beta", "gamma"}); err != nil {
		t.Fatalf("Record v2: %v", err)
	}

	names, err := c.Members(path, info)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if want := []string{"beta", "gamma"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}

	count := 0
	if err := c.Walk(func(Entry) error { count++; return nil }); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if count != 1 {
		t.Fatalf("old listing not replaced, Walk visited %d", count)
	}
}

func TestCatalogPrune(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := openTestCatalog(t)
	dir := t.TempDir()
	keep, keepInfo := writeFixture(t, dir, "keep.tgz", []byte("keep me"))
	gone, goneInfo := writeFixture(t, dir, "gone.tgz", []byte("remove me"))

	if err := c.Record(keep, keepInfo, []string{"k"}); err != nil {
		t.Fatalf("Record keep: %v", err)
	}
	if err := c.Record(gone, goneInfo, []string{"g"}); err != nil {
		t.Fatalf("Record gone: %v", err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	removed, err := c.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}
	if _, err := c.Lookup(gone); !errdefs.IsNotFound(err) {
		t.Fatalf("pruned listing still resolvable: %v", err)
	}
	if _, err := c.Lookup(keep); err != nil {
		t.Fatalf("surviving listing lost: %v", err)
	}
}

// The LRU answers repeat lookups without touching bolt: a hit keeps
// working even after the database handle is gone.
func TestCatalogLRUFront(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := openTestCatalog(t)
	path, info := writeFixture(t, t.TempDir(), "hot.zip", []byte("zzzz"))

	if err := c.Record(path, info, []string{"hot.txt"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	names, err := c.Members(path, info)
	if err != nil {
		t.Fatalf("Members after close = %v, want LRU hit", err)
	}
	if want := []string{"hot.txt"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
}
