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

package zpipe

import (
	"bytes"
	"strings"
	"testing"

	"github.com/deepgrep/deepgrep/util/testutil"
)

func TestParseTarSize(t *testing.T) {
	base256 := make([]byte, 12)
	base256[0] = 0x80
	base256[7] = 0x01 // 1 << 32

	tests := []struct {
		name  string
		field []byte
		want  int64
		ok    bool
	}{
		{name: "octal", field: []byte("00000001750\x00"), want: 0o1750, ok: true},
		{name: "octal space padded", field: []byte("     1750 \x00\x00"), want: 0o1750, ok: true},
		{name: "empty", field: bytes.Repeat([]byte{0}, 12), want: 0, ok: true},
		{name: "base-256", field: base256, want: 1 << 32, ok: true},
		{name: "garbage", field: []byte("99x99999999\x00"), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTarSize(tt.field)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("parseTarSize(%q) = (%d, %v), want (%d, %v)", tt.field, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParsePax(t *testing.T) {
	body := []byte("22 path=some/file.txt\n16 size=1234567\n20 mtime=1350244992\n")
	path, size, hasSize := parsePax(body)
	if path != "some/file.txt" {
		t.Errorf("path = %q, want some/file.txt", path)
	}
	if !hasSize || size != 1234567 {
		t.Errorf("size = (%d, %v), want (1234567, true)", size, hasSize)
	}

	// A bad length prefix must end parsing without a panic, keeping
	// whatever parsed before it.
	path, _, _ = parsePax([]byte("13 path=ok.txt\nbroken"))
	if path != "ok.txt" {
		t.Errorf("path = %q, want ok.txt", path)
	}
}

func TestTarMagicVariants(t *testing.T) {
	posix := make([]byte, probeLen)
	copy(posix[tarMagicOff:], "ustar\x0000")
	gnu := make([]byte, probeLen)
	copy(gnu[tarMagicOff:], "ustar  \x00")
	wrong := make([]byte, probeLen)
	copy(wrong[tarMagicOff:], "ustarxx")

	if !tarMagic(posix) {
		t.Error("POSIX magic not recognized")
	}
	if !tarMagic(gnu) {
		t.Error("GNU magic not recognized")
	}
	if tarMagic(wrong) {
		t.Error("corrupt magic recognized")
	}
	if tarMagic(posix[:100]) {
		t.Error("short buffer recognized")
	}
}

func TestParseCpioHeader(t *testing.T) {
	odc := testutil.BuildCpioBytes(testutil.CpioOdc, []testutil.CpioEntry{
		testutil.CpioFile("f", "xyz"),
	})
	newc := testutil.BuildCpioBytes(testutil.CpioNewc, []testutil.CpioEntry{
		testutil.CpioFile("f", "xyz"),
	})
	crc := testutil.BuildCpioBytes(testutil.CpioCrc, []testutil.CpioEntry{
		testutil.CpioFile("f", "xyz"),
	})

	tests := []struct {
		name    string
		raw     []byte
		hdrLen  int
		newcFmt bool
	}{
		{name: "odc", raw: odc, hdrLen: cpioOdcLen},
		{name: "newc", raw: newc, hdrLen: cpioNewcLen, newcFmt: true},
		{name: "crc", raw: crc, hdrLen: cpioNewcLen, newcFmt: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, n, ok := parseCpioHeader(tt.raw)
			if !ok {
				t.Fatal("well-formed header rejected")
			}
			if n != tt.hdrLen || h.newc != tt.newcFmt {
				t.Errorf("(len, newc) = (%d, %v), want (%d, %v)", n, h.newc, tt.hdrLen, tt.newcFmt)
			}
			if h.fileSize != 3 {
				t.Errorf("fileSize = %d, want 3", h.fileSize)
			}
			if h.nameSize != 2 {
				t.Errorf("nameSize = %d, want 2", h.nameSize)
			}
			if h.mode&cpioModeMask != cpioModeRegular {
				t.Errorf("mode %o not regular", h.mode)
			}
		})
	}

	badMagic := []byte("070709" + strings.Repeat("0", 104))
	badHex := []byte("070701" + strings.Repeat("0", 104))
	badHex[13] = 'G'
	badName := []byte("070701" + strings.Repeat("0", 104)) // namesize 0
	malformed := [][]byte{
		badMagic,
		badHex,
		badName,
		bytes.Repeat([]byte("070701"), 2), // too short
	}
	for i, raw := range malformed {
		if _, _, ok := parseCpioHeader(raw); ok {
			t.Errorf("malformed header %d accepted", i)
		}
	}
}

func TestJoinParts(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{prefix: "", name: "a.txt", want: "a.txt"},
		{prefix: "outer.tar", name: "", want: "outer.tar"},
		{prefix: "outer.tar", name: "a.txt", want: "outer.tar:a.txt"},
		{prefix: "", name: "", want: ""},
	}
	for _, tt := range tests {
		if got := joinParts(":", tt.prefix, tt.name); got != tt.want {
			t.Errorf("joinParts(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestPadding(t *testing.T) {
	if pad512(0) != 0 || pad512(512) != 0 {
		t.Error("aligned sizes must need no padding")
	}
	if pad512(1) != 511 || pad512(513) != 511 || pad512(1000) != 24 {
		t.Error("pad512 misaligned")
	}
	if pad4(110+2) != 0 || pad4(3) != 1 || pad4(5) != 3 {
		t.Error("pad4 misaligned")
	}
}
