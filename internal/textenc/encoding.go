// Package textenc detects the on-disk encoding of a text file from its first
// block and converts between that encoding and the UTF-8 held in documents.
package textenc

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type Encoding int

const (
	Encoding8Bit Encoding = iota
	EncodingUTF16BE
	EncodingUTF16LE
	// EncodingUTF8 is UTF-8 with a byte order mark.
	EncodingUTF8
	// EncodingUTF8Cookie is UTF-8 without a byte order mark.
	EncodingUTF8Cookie
)

var names = map[Encoding]string{
	Encoding8Bit:       "8bit",
	EncodingUTF16BE:    "utf-16be",
	EncodingUTF16LE:    "utf-16le",
	EncodingUTF8:       "utf-8-bom",
	EncodingUTF8Cookie: "utf-8",
}

func (e Encoding) String() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

func Parse(s string) (Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for enc, name := range names {
		if name == key {
			return enc, nil
		}
	}
	return Encoding8Bit, fmt.Errorf("unknown encoding %q", s)
}

var (
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
)

// BOM returns the byte order mark written for e, or nil.
func BOM(e Encoding) []byte {
	switch e {
	case EncodingUTF16BE:
		return bomUTF16BE
	case EncodingUTF16LE:
		return bomUTF16LE
	case EncodingUTF8:
		return bomUTF8
	default:
		return nil
	}
}

// Detect classifies a file from its first block. A byte order mark wins,
// then a utf-8 coding cookie on one of the first two lines, then (when
// sniffUTF8 is set) a block of valid multi-byte UTF-8.
func Detect(head []byte, sniffUTF8 bool) Encoding {
	switch {
	case bytes.HasPrefix(head, bomUTF8):
		return EncodingUTF8
	case bytes.HasPrefix(head, bomUTF16BE):
		return EncodingUTF16BE
	case bytes.HasPrefix(head, bomUTF16LE):
		return EncodingUTF16LE
	}
	if CodingCookie(head) == EncodingUTF8Cookie {
		return EncodingUTF8Cookie
	}
	if sniffUTF8 && looksUTF8(head) {
		return EncodingUTF8Cookie
	}
	return Encoding8Bit
}

// CodingCookie looks for "coding: utf-8" or "coding=utf-8" on the first two
// lines of buf.
func CodingCookie(buf []byte) Encoding {
	l1 := ExtractLine(buf)
	if cookieValue(l1) == EncodingUTF8Cookie {
		return EncodingUTF8Cookie
	}
	return cookieValue(ExtractLine(buf[len(l1):]))
}

// ExtractLine returns the first line of buf including its terminator.
func ExtractLine(buf []byte) []byte {
	end := 0
	for end < len(buf) && buf[end] != '\r' && buf[end] != '\n' {
		end++
	}
	if end+1 < len(buf) && buf[end] == '\r' && buf[end+1] == '\n' {
		end++
	}
	if end < len(buf) {
		end++
	}
	return buf[:end]
}

func cookieValue(line []byte) Encoding {
	pos := bytes.Index(line, []byte("coding"))
	if pos < 0 {
		return Encoding8Bit
	}
	pos += len("coding")
	if pos >= len(line) || (line[pos] != ':' && line[pos] != '=') {
		return Encoding8Bit
	}
	pos++
	if pos < len(line) && (line[pos] == '"' || line[pos] == '\'') {
		pos++
	}
	for pos < len(line) && (line[pos] == ' ' || line[pos] == '\t') {
		pos++
	}
	end := pos
	for end < len(line) && isEncodingChar(line[end]) {
		end++
	}
	if strings.EqualFold(string(line[pos:end]), "utf-8") {
		return EncodingUTF8Cookie
	}
	return Encoding8Bit
}

func isEncodingChar(ch byte) bool {
	return ch == '_' || ch == '-' || ch == '.' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

// looksUTF8 reports whether head is valid UTF-8 containing at least one
// multi-byte sequence. A sequence cut off by the end of the block is allowed.
func looksUTF8(head []byte) bool {
	for i := len(head) - 1; i >= 0 && i >= len(head)-utf8.UTFMax; i-- {
		if utf8.RuneStart(head[i]) {
			if !utf8.FullRune(head[i:]) {
				head = head[:i]
			}
			break
		}
	}
	if !utf8.Valid(head) {
		return false
	}
	for _, b := range head {
		if b >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// NewDecoder converts file bytes in e to UTF-8. Byte order marks are
// consumed.
func NewDecoder(e Encoding) transform.Transformer {
	switch e {
	case EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	case EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case EncodingUTF8:
		return unicode.UTF8BOM.NewDecoder()
	default:
		return transform.Nop
	}
}

// NewEncoder converts UTF-8 document text to e, writing a byte order mark
// where e carries one.
func NewEncoder(e Encoding) transform.Transformer {
	switch e {
	case EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	case EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	case EncodingUTF8:
		return unicode.UTF8BOM.NewEncoder()
	default:
		return transform.Nop
	}
}
