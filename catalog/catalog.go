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

// Package catalog persists archive tables of contents so repeated
// searches can skip archives whose member lists cannot match.
//
// The catalog stores listings in the following schema.
//
// - archives
//   - *key*                 : bucket per listing, keyed by the digest of
//     "path NUL size NUL mtime"
//     - path : <string>     : absolute path at record time
//     - size : <varint>     : file size the listing was taken from
//     - mtime : <varint>    : file mtime, unix nanoseconds
//     - compressed : <byte> : 1 when a decompression layer was stripped
//     - members
//       - *seq* : <string>  : member name, insertion order, big-endian key
//     - offsets
//       - *seq* : <varint>  : compressed input offset, when known
//
// - paths
//   - *path* : <key>        : latest listing key recorded for the path
package catalog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/opencontainers/go-digest"
	bolt "go.etcd.io/bbolt"

	"github.com/deepgrep/deepgrep/metrics"
	"github.com/deepgrep/deepgrep/util/dbutil"
	"github.com/deepgrep/deepgrep/util/lrucache"
)

const (
	dbName            = "catalog.db"
	defaultLRUEntries = 256
)

var (
	bucketKeyArchives   = []byte("archives")
	bucketKeyPaths      = []byte("paths")
	bucketKeyPath       = []byte("path")
	bucketKeySize       = []byte("size")
	bucketKeyModTime    = []byte("mtime")
	bucketKeyCompressed = []byte("compressed")
	bucketKeyMembers    = []byte("members")
	bucketKeyOffsets    = []byte("offsets")

	errArchivesBucketNotFound = errors.New("archives bucket not found")
)

// DBPath returns the catalog database location under the root dir.
func DBPath(root string) string {
	return filepath.Join(root, dbName)
}

// Member is one archive entry as recorded by a full pipeline pass.
type Member struct {
	Name   string
	Offset int64 // compressed input offset where the member was found, 0 when unknown
}

// Entry is a cataloged archive.
type Entry struct {
	Path       string
	Size       int64
	ModTime    time.Time
	Compressed bool
	Members    []Member
}

// Catalog is a persistent table-of-contents cache fronted by an
// in-process LRU. Safe for concurrent use.
type Catalog struct {
	db  *bolt.DB
	lru *lrucache.Cache
}

// Open opens or creates the catalog database at path.
func Open(path string, lruEntries int) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{
		NoFreelistSync: true,
		FreelistType:   bolt.FreelistMapType,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open catalog db %s: %w", path, err)
	}
	if lruEntries <= 0 {
		lruEntries = defaultLRUEntries
	}
	return &Catalog{db: db, lru: lrucache.New(lruEntries)}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Members returns the member names recorded for the file identified by
// path and info. A missing or stale listing is reported as a wrapped
// errdefs.ErrNotFound; stale listings are dropped on the way out.
func (c *Catalog) Members(path string, info fs.FileInfo) ([]string, error) {
	abs := absPath(path)
	key := entryKey(abs, info.Size(), info.ModTime())
	if v, ok := c.lru.Get(key); ok {
		metrics.CatalogHits.Inc()
		return v.([]string), nil
	}

	var names []string
	err := c.db.View(func(tx *bolt.Tx) error {
		bkt, err := getEntryBucket(tx, key)
		if err != nil {
			return err
		}
		names, err = readMemberNames(bkt)
		return err
	})
	if err != nil {
		metrics.CatalogMisses.Inc()
		c.dropStale(abs, key)
		if errors.Is(err, errArchivesBucketNotFound) {
			err = notFound(abs)
		}
		return nil, err
	}
	metrics.CatalogHits.Inc()
	c.lru.Add(key, names)
	return names, nil
}

// Record stores the names observed by a completed search pass. The
// search only records files the pipeline actually decoded, so the
// listing is marked compressed.
func (c *Catalog) Record(path string, info fs.FileInfo, names []string) error {
	members := make([]Member, len(names))
	for i, n := range names {
		members[i] = Member{Name: n}
	}
	return c.RecordMembers(path, info, true, members)
}

// RecordMembers stores a full member list for the file identified by
// path and info, replacing any previous listing for the same path.
func (c *Catalog) RecordMembers(path string, info fs.FileInfo, compressed bool, members []Member) error {
	abs := absPath(path)
	key := entryKey(abs, info.Size(), info.ModTime())
	err := c.db.Update(func(tx *bolt.Tx) error {
		archives, err := tx.CreateBucketIfNotExists(bucketKeyArchives)
		if err != nil {
			return err
		}
		paths, err := tx.CreateBucketIfNotExists(bucketKeyPaths)
		if err != nil {
			return err
		}
		if old := paths.Get([]byte(abs)); old != nil && !bytes.Equal(old, []byte(key)) {
			if archives.Bucket(old) != nil {
				if err := archives.DeleteBucket(old); err != nil {
					return err
				}
			}
			c.lru.Remove(digest.Digest(old))
		}
		if archives.Bucket([]byte(key)) != nil {
			if err := archives.DeleteBucket([]byte(key)); err != nil {
				return err
			}
		}
		bkt, err := archives.CreateBucket([]byte(key))
		if err != nil {
			return err
		}
		if err := putEntry(bkt, abs, info, compressed, members); err != nil {
			return err
		}
		return paths.Put([]byte(abs), []byte(key))
	})
	if err != nil {
		return fmt.Errorf("cannot record members of %s: %w", abs, err)
	}
	c.lru.Add(key, memberNames(members))
	return nil
}

// Lookup returns the listing recorded for path, whether or not the file
// still matches it.
func (c *Catalog) Lookup(path string) (Entry, error) {
	abs := absPath(path)
	var e Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		paths := tx.Bucket(bucketKeyPaths)
		archives := tx.Bucket(bucketKeyArchives)
		if paths == nil || archives == nil {
			return notFound(abs)
		}
		key := paths.Get([]byte(abs))
		if key == nil {
			return notFound(abs)
		}
		bkt := archives.Bucket(key)
		if bkt == nil {
			return notFound(abs)
		}
		var err error
		e, err = loadEntry(bkt)
		return err
	})
	return e, err
}

// WalkFn is called once per cataloged listing. Returning an error stops
// the walk.
type WalkFn func(Entry) error

// Walk visits every recorded listing.
func (c *Catalog) Walk(fn WalkFn) error {
	return c.db.View(func(tx *bolt.Tx) error {
		archives, err := getArchivesBucket(tx)
		if err != nil {
			return nil
		}
		return archives.ForEachBucket(func(k []byte) error {
			e, err := loadEntry(archives.Bucket(k))
			if err != nil {
				return err
			}
			return fn(e)
		})
	})
}

// Prune removes listings whose file no longer exists or no longer
// matches the recorded size and mtime. It returns the number removed.
//
// NOTE: removing buckets while iterating causes unexpected behavior, so
// stale keys are collected first and deleted after.
func (c *Catalog) Prune() (int, error) {
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		archives, err := getArchivesBucket(tx)
		if err != nil {
			return nil
		}
		var stale [][]byte
		if err := archives.ForEachBucket(func(k []byte) error {
			e, err := loadEntry(archives.Bucket(k))
			if err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			info, err := os.Stat(e.Path)
			if err != nil || info.Size() != e.Size || info.ModTime().UnixNano() != e.ModTime.UnixNano() {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := archives.DeleteBucket(k); err != nil {
				return err
			}
			c.lru.Remove(digest.Digest(k))
			removed++
		}
		if paths := tx.Bucket(bucketKeyPaths); paths != nil {
			var gone [][]byte
			if err := paths.ForEach(func(p, k []byte) error {
				if archives.Bucket(k) == nil {
					gone = append(gone, append([]byte(nil), p...))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, p := range gone {
				if err := paths.Delete(p); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return removed, err
}

// dropStale deletes a listing recorded for abs under a different
// identity. A changed file stops matching its old key, so the old entry
// can only be reached through the path index.
func (c *Catalog) dropStale(abs string, current digest.Digest) {
	err := c.db.Update(func(tx *bolt.Tx) error {
		paths := tx.Bucket(bucketKeyPaths)
		if paths == nil {
			return nil
		}
		old := paths.Get([]byte(abs))
		if old == nil || bytes.Equal(old, []byte(current)) {
			return nil
		}
		if archives := tx.Bucket(bucketKeyArchives); archives != nil && archives.Bucket(old) != nil {
			if err := archives.DeleteBucket(old); err != nil {
				return err
			}
		}
		c.lru.Remove(digest.Digest(old))
		return paths.Delete([]byte(abs))
	})
	if err != nil {
		log.L.WithError(err).WithField("path", abs).Warn("cannot drop stale catalog entry")
	}
}

// entryKey derives the listing key for a file identity. Path, size and
// mtime all participate, so any change to the file makes its old
// listing unreachable by key.
func entryKey(path string, size int64, modTime time.Time) digest.Digest {
	return digest.FromString(fmt.Sprintf("%s\x00%d\x00%d", path, size, modTime.UnixNano()))
}

func notFound(path string) error {
	return fmt.Errorf("no catalog entry for %s: %w", path, errdefs.ErrNotFound)
}

func getArchivesBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	archives := tx.Bucket(bucketKeyArchives)
	if archives == nil {
		return nil, errArchivesBucketNotFound
	}
	return archives, nil
}

func getEntryBucket(tx *bolt.Tx, key digest.Digest) (*bolt.Bucket, error) {
	archives, err := getArchivesBucket(tx)
	if err != nil {
		return nil, err
	}
	bkt := archives.Bucket([]byte(key))
	if bkt == nil {
		return nil, fmt.Errorf("no listing for key %s: %w", key, errdefs.ErrNotFound)
	}
	return bkt, nil
}

func putEntry(bkt *bolt.Bucket, abs string, info fs.FileInfo, compressed bool, members []Member) error {
	size, err := dbutil.EncodeInt(info.Size())
	if err != nil {
		return err
	}
	mtime, err := dbutil.EncodeInt(info.ModTime().UnixNano())
	if err != nil {
		return err
	}
	var comp byte
	if compressed {
		comp = 1
	}
	updates := []struct {
		key []byte
		val []byte
	}{
		{bucketKeyPath, []byte(abs)},
		{bucketKeySize, size},
		{bucketKeyModTime, mtime},
		{bucketKeyCompressed, []byte{comp}},
	}
	for _, update := range updates {
		if err := bkt.Put(update.key, update.val); err != nil {
			return err
		}
	}

	mbkt, err := bkt.CreateBucket(bucketKeyMembers)
	if err != nil {
		return err
	}
	var obkt *bolt.Bucket
	for i, m := range members {
		if err := mbkt.Put(encodeSeq(uint32(i)), []byte(m.Name)); err != nil {
			return err
		}
		if m.Offset <= 0 {
			continue
		}
		if obkt == nil {
			if obkt, err = bkt.CreateBucket(bucketKeyOffsets); err != nil {
				return err
			}
		}
		off, err := dbutil.EncodeInt(m.Offset)
		if err != nil {
			return err
		}
		if err := obkt.Put(encodeSeq(uint32(i)), off); err != nil {
			return err
		}
	}
	return nil
}

func loadEntry(bkt *bolt.Bucket) (Entry, error) {
	e := Entry{Path: string(bkt.Get(bucketKeyPath))}
	size, err := dbutil.DecodeInt(bkt.Get(bucketKeySize))
	if err != nil {
		return Entry{}, err
	}
	e.Size = size
	mtime, err := dbutil.DecodeInt(bkt.Get(bucketKeyModTime))
	if err != nil {
		return Entry{}, err
	}
	e.ModTime = time.Unix(0, mtime)
	if v := bkt.Get(bucketKeyCompressed); len(v) == 1 && v[0] == 1 {
		e.Compressed = true
	}

	mbkt := bkt.Bucket(bucketKeyMembers)
	if mbkt == nil {
		return e, nil
	}
	obkt := bkt.Bucket(bucketKeyOffsets)
	err = mbkt.ForEach(func(k, v []byte) error {
		m := Member{Name: string(v)}
		if obkt != nil {
			if ov := obkt.Get(k); ov != nil {
				off, err := dbutil.DecodeInt(ov)
				if err != nil {
					return err
				}
				m.Offset = off
			}
		}
		e.Members = append(e.Members, m)
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func readMemberNames(bkt *bolt.Bucket) ([]string, error) {
	mbkt := bkt.Bucket(bucketKeyMembers)
	if mbkt == nil {
		return nil, nil
	}
	var names []string
	err := mbkt.ForEach(func(k, v []byte) error {
		names = append(names, string(v))
		return nil
	})
	return names, err
}

func memberNames(members []Member) []string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	return names
}

func encodeSeq(i uint32) []byte {
	b := [4]byte{}
	binary.BigEndian.PutUint32(b[:], i)
	return b[:]
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
