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

// This utility helps tests generate sample cpio streams. The Go
// ecosystem has no cpio writer in wide use, so the three header layouts
// are emitted directly.

import (
	"bytes"
	"fmt"
	"io"
)

// CpioFormat selects the cpio header layout to emit.
type CpioFormat int

const (
	// CpioOdc is the portable ASCII format, magic 070707, octal fields.
	CpioOdc CpioFormat = iota
	// CpioNewc is the SVR4 format, magic 070701, hex fields, 4-byte alignment.
	CpioNewc
	// CpioCrc is CpioNewc with magic 070702 and a body checksum field.
	CpioCrc
)

const (
	cpioModeReg     = 0100000
	cpioModeDir     = 0040000
	cpioModeSymlink = 0120000

	// fixed mtime keeps fixtures byte-stable
	cpioMtime = 1658503010
)

// CpioEntry is one member of a cpio fixture. A zero Mode means a
// regular 0644 file.
type CpioEntry struct {
	Name string
	Body string
	Mode int64
}

// CpioFile is a regular file entry.
func CpioFile(name, body string) CpioEntry {
	return CpioEntry{Name: name, Body: body, Mode: cpioModeReg | 0644}
}

// CpioDir is a directory entry.
func CpioDir(name string) CpioEntry {
	return CpioEntry{Name: name, Mode: cpioModeDir | 0755}
}

// CpioSymlink is a symlink entry; the body carries the target path.
func CpioSymlink(name, target string) CpioEntry {
	return CpioEntry{Name: name, Body: target, Mode: cpioModeSymlink | 0777}
}

// BuildCpio builds a cpio stream, trailer included, and returns an io.Reader.
func BuildCpio(format CpioFormat, ents []CpioEntry) io.Reader {
	return bytes.NewReader(BuildCpioBytes(format, ents))
}

// BuildCpioBytes is BuildCpio materialized into memory.
func BuildCpioBytes(format CpioFormat, ents []CpioEntry) []byte {
	buf := new(bytes.Buffer)
	ino := int64(1)
	for _, e := range ents {
		if e.Mode == 0 {
			e.Mode = cpioModeReg | 0644
		}
		appendCpio(buf, format, e, ino)
		ino++
	}
	appendCpio(buf, format, CpioEntry{Name: "TRAILER!!!", Mode: 0}, ino)
	return buf.Bytes()
}

func appendCpio(buf *bytes.Buffer, format CpioFormat, e CpioEntry, ino int64) {
	if format == CpioOdc {
		appendOdc(buf, e, ino)
		return
	}
	appendNewc(buf, format, e, ino)
}

func appendOdc(buf *bytes.Buffer, e CpioEntry, ino int64) {
	nlink := int64(1)
	if e.Mode&cpioModeDir != 0 {
		nlink = 2
	}
	fmt.Fprintf(buf, "070707")
	fmt.Fprintf(buf, "%06o", 0)              // dev
	fmt.Fprintf(buf, "%06o", ino)            // ino
	fmt.Fprintf(buf, "%06o", e.Mode)         // mode
	fmt.Fprintf(buf, "%06o", 0)              // uid
	fmt.Fprintf(buf, "%06o", 0)              // gid
	fmt.Fprintf(buf, "%06o", nlink)          // nlink
	fmt.Fprintf(buf, "%06o", 0)              // rdev
	fmt.Fprintf(buf, "%011o", cpioMtime)     // mtime
	fmt.Fprintf(buf, "%06o", len(e.Name)+1)  // namesize, NUL included
	fmt.Fprintf(buf, "%011o", len(e.Body))   // filesize
	buf.WriteString(e.Name)
	buf.WriteByte(0)
	buf.WriteString(e.Body)
}

func appendNewc(buf *bytes.Buffer, format CpioFormat, e CpioEntry, ino int64) {
	magic := "070701"
	check := int64(0)
	if format == CpioCrc {
		magic = "070702"
		for i := 0; i < len(e.Body); i++ {
			check += int64(e.Body[i])
		}
		check &= 0xffffffff
	}
	nlink := int64(1)
	if e.Mode&cpioModeDir != 0 {
		nlink = 2
	}
	buf.WriteString(magic)
	for _, v := range []int64{
		ino,                  // ino
		e.Mode,               // mode
		0,                    // uid
		0,                    // gid
		nlink,                // nlink
		cpioMtime,            // mtime
		int64(len(e.Body)),   // filesize
		0,                    // devmajor
		0,                    // devminor
		0,                    // rdevmajor
		0,                    // rdevminor
		int64(len(e.Name)+1), // namesize, NUL included
		check,                // check
	} {
		fmt.Fprintf(buf, "%08X", v)
	}
	buf.WriteString(e.Name)
	buf.WriteByte(0)
	pad4(buf, 110+len(e.Name)+1)
	buf.WriteString(e.Body)
	pad4(buf, len(e.Body))
}

func pad4(buf *bytes.Buffer, n int) {
	for n%4 != 0 {
		buf.WriteByte(0)
		n++
	}
}
