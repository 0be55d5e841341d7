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

package ioutils

import (
	"io"
)

// CountingReader is an `io.Reader` that tracks how many bytes have been
// read from an underlying `io.Reader`.
type CountingReader struct {
	r io.Reader
	n int64
}

// NewCountingReader creates a new CountingReader with the byte count set to 0.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

// Read reads from the underlying reader into the provided byte slice and
// advances the byte count by the number of bytes read.
func (c *CountingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}

// Offset is the number of bytes read from the underlying reader so far.
func (c *CountingReader) Offset() int64 {
	return c.n
}

// Reset points the CountingReader at a new underlying reader and zeroes
// the byte count.
func (c *CountingReader) Reset(r io.Reader) {
	c.r = r
	c.n = 0
}
