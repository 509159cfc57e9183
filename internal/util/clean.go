package util

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

const maxBinaryCheckBytes = 512

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var charReplacer = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201C", "\"", "\u201D", "\"",
	"\u2013", "-", "\u2014", "--", "\u2026", "...", "\u00a0", " ",
	"\u0091", "'", "\u0092", "'", "\u0093", "\"", "\u0094", "\"",
	"\u0096", "-", "\u0097", "--",
)

// IsLikelyBinary reports whether the first bytes of path contain a NUL.
func IsLikelyBinary(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	buffer := make([]byte, maxBinaryCheckBytes)
	n, err := file.Read(buffer)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	return bytes.Contains(buffer[:n], []byte{0}), nil
}

// TrimBOM drops a leading UTF-8 byte order mark.
func TrimBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, utf8BOM)
}

// CleanText turns extracted bytes into valid UTF-8 with typographic quotes,
// dashes and non-breaking spaces folded to ASCII. src names the input in
// the warning logged for invalid sequences.
func CleanText(b []byte, src string) string {
	b = TrimBOM(b)
	if !utf8.Valid(b) {
		log.WithField("source", src).Warn("invalid UTF-8 in extracted text, replacing invalid sequences")
		b = bytes.ToValidUTF8(b, []byte(string(utf8.RuneError)))
	}
	return charReplacer.Replace(string(b))
}
