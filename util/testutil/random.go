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

import (
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"testing"
)

// Seed rand source
const TestRandomSeed = 8467113291633144127

// TestRand wraps rand/v2 Rand with fixture helpers. It is instantiated
// with NewTestRand, which seeds it with TestRandomSeed and the name of
// the calling test, so runs are deterministic per test but differ
// across tests. TestRand is NOT thread-safe; keep each instance on a
// single goroutine.
type TestRand struct {
	*rand.Rand
}

// NewTestRand returns a deterministic random source for the given test.
func NewTestRand(t testing.TB) *TestRand {
	h := fnv.New64a()
	h.Write([]byte(t.Name()))
	return &TestRand{
		rand.New(rand.NewPCG(TestRandomSeed, h.Sum64())),
	}
}

func (r *TestRand) Read(b []byte) {
	for i := range b {
		b[i] = byte(r.Int64())
	}
}

// RandomByteData returns a byte slice of length `size` populated with random data.
func (r *TestRand) RandomByteData(size int64) []byte {
	b := make([]byte, size)
	r.Read(b)
	return b
}

// RandomText returns `lines` newline-terminated lines of random words.
// Lines whose index appears in matchAt additionally contain the needle,
// so search tests know exactly which lines must match.
func (r *TestRand) RandomText(lines int, needle string, matchAt ...int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz"
	match := make(map[int]bool, len(matchAt))
	for _, i := range matchAt {
		match[i] = true
	}
	var sb strings.Builder
	for i := 0; i < lines; i++ {
		words := r.IntN(8) + 2
		for w := 0; w < words; w++ {
			if w > 0 {
				sb.WriteByte(' ')
			}
			n := r.IntN(10) + 2
			for j := 0; j < n; j++ {
				sb.WriteByte(charset[r.IntN(len(charset))])
			}
		}
		if match[i] {
			sb.WriteByte(' ')
			sb.WriteString(needle)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
