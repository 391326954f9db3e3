// Package namecodec maps human-readable file and folder names to names that
// are safe to store on disk, and back.
//
// Names containing CJK ideographs are stored as the Base64 encoding of their
// UTF-8 stem. Two generations of stored names coexist:
//
//	<base64>_<unixMillis><ext>   uploads (legacy and current)
//	<base64><ext>                renames and folders
//
// There is no side index: whether a stored stem is Base64 is decided by
// decoding it and looking for CJK text in the result. Anything that does not
// qualify is shown as-is.
package namecodec

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// CJK Unified Ideographs, U+4E00 through U+9FA5.
const (
	cjkFirst = '一'
	cjkLast  = '龥'
)

// The standard alphabet's '/' cannot appear in a file name; it is stored as '-'.
const (
	slashSymbol = "/"
	slashSafe   = "-"
)

// Format classifies a stored name.
type Format int

const (
	Plain Format = iota
	LegacyTimestamped
	PureBase64
)

func (f Format) String() string {
	switch f {
	case LegacyTimestamped:
		return "legacy-timestamped"
	case PureBase64:
		return "pure-base64"
	default:
		return "plain"
	}
}

// Encoding is the classification of a stored name. Stem, Timestamp and Ext are
// only populated for the Base64 formats.
type Encoding struct {
	Format    Format
	Stem      string
	Timestamp string
	Ext       string
	Display   string
}

// ContainsCJK reports whether s has at least one CJK ideograph.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if r >= cjkFirst && r <= cjkLast {
			return true
		}
	}
	return false
}

// SplitExt splits name at its last '.'; names without a dot have no extension.
func SplitExt(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// EncodeStem returns the stored form of a stem.
func EncodeStem(stem string) string {
	if !ContainsCJK(stem) {
		return stem
	}
	enc := base64.StdEncoding.EncodeToString([]byte(stem))
	return strings.ReplaceAll(enc, slashSymbol, slashSafe)
}

// Encode returns the stored form of a file name, keeping its extension.
func Encode(displayName string) string {
	stem, ext := SplitExt(displayName)
	return EncodeStem(stem) + ext
}

// EncodeFolder returns the stored form of a folder name. Folders have no
// extension and never carry a timestamp.
func EncodeFolder(displayName string) string {
	return EncodeStem(displayName)
}

// Decode returns the display name of a stored file name.
func Decode(storedName string) string {
	return Classify(storedName).Display
}

// DecodeFolder returns the display name of a stored folder name.
func DecodeFolder(storedName string) string {
	if decoded, ok := decodeStem(storedName); ok {
		return decoded
	}
	return storedName
}

// Classify determines which encoding generation produced storedName.
func Classify(storedName string) Encoding {
	stem, ext := SplitExt(storedName)

	if i := strings.LastIndexByte(stem, '_'); i >= 0 {
		candidate := stem[:i]
		if decoded, ok := decodeStem(candidate); ok {
			return Encoding{
				Format:    LegacyTimestamped,
				Stem:      candidate,
				Timestamp: stem[i+1:],
				Ext:       ext,
				Display:   decoded + ext,
			}
		}
	}

	if decoded, ok := decodeStem(stem); ok {
		return Encoding{
			Format:  PureBase64,
			Stem:    stem,
			Ext:     ext,
			Display: decoded + ext,
		}
	}

	return Encoding{Format: Plain, Display: storedName}
}

// decodeStem decodes a Base64 stem and reports whether it qualifies as an
// encoded name: valid Base64 (padded or not), valid UTF-8, containing CJK.
func decodeStem(stem string) (string, bool) {
	if stem == "" {
		return "", false
	}
	s := strings.ReplaceAll(stem, slashSafe, slashSymbol)

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return "", false
		}
	}
	if !utf8.Valid(raw) {
		return "", false
	}
	decoded := string(raw)
	if !ContainsCJK(decoded) {
		return "", false
	}
	return decoded, true
}

// RepairLatin1 undoes the common mojibake where a client's UTF-8 filename was
// read as Latin-1: if every rune of name fits in a byte and those bytes form
// UTF-8 text with CJK in it, that text is returned. Otherwise name is
// returned unchanged.
func RepairLatin1(name string) string {
	if ContainsCJK(name) {
		return name
	}
	b := make([]byte, 0, len(name))
	for _, r := range name {
		if r > 0xFF {
			return name
		}
		b = append(b, byte(r))
	}
	if !utf8.Valid(b) {
		return name
	}
	if s := string(b); ContainsCJK(s) {
		return s
	}
	return name
}
