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

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/krolaw/zipstream"
)

// zipSegments walks a zip container in local file header order without
// seeking, so it works on pipes and nested streams. Members stored with
// methods other than Store and Deflate surface ErrUnsupported on read;
// skipping past them still works because the local header carries the
// compressed length.
type zipSegments struct {
	zr     *zipstream.Reader
	method uint16
}

func newZipSegments(r io.Reader) *zipSegments {
	return &zipSegments{zr: zipstream.NewReader(r)}
}

// Next advances to the next local file header, discarding unread bytes
// of the current member. io.EOF means the central directory was reached.
func (z *zipSegments) Next() (Member, error) {
	h, err := z.zr.Next()
	if err != nil {
		return Member{}, err
	}
	z.method = h.Method
	return Member{
		Name: h.Name,
		Dir:  strings.HasSuffix(h.Name, "/") || h.FileInfo().IsDir(),
	}, nil
}

func (z *zipSegments) Read(p []byte) (int, error) {
	switch z.method {
	case zip.Store, zip.Deflate:
		return z.zr.Read(p)
	default:
		return 0, fmt.Errorf("zip method %d: %w", z.method, ErrUnsupported)
	}
}
