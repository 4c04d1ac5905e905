// Package mimeclassifier sniffs the content of a finalized upload and
// checks it against the allow-list of audio, video and image mime
// types that ingestd accepts. Sniffing, not the client-declared
// filetype metadata, is authoritative at finalization time.
package mimeclassifier

import (
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// allowed is the literal allow-list from the spec, keyed by the full
// "group/subtype" mime string.
var allowed = map[string]struct{}{
	"audio/aac": {}, "audio/ogg": {}, "audio/oga": {}, "audio/mpeg": {},
	"audio/webm": {}, "audio/wave": {}, "audio/wav": {},

	"video/mp4": {}, "video/mpeg": {}, "video/webm": {}, "video/ogg": {},
	"video/ogv": {}, "video/jpeg": {}, "video/x-msvideo": {}, "video/x-matroska": {},

	"image/jpeg": {}, "image/pjpeg": {}, "image/png": {}, "image/apng": {},
	"image/avif": {}, "image/gif": {}, "image/webp": {}, "image/svg+xml": {},
}

// Classify sniffs the content of the file at path and returns its mime
// type, e.g. "image/png".
func Classify(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("mimeclassifier: sniff %s: %w", path, err)
	}

	return mtype.String(), nil
}

// IsSupported reports whether mime (e.g. "image/png") is a member of
// the audio, video or image allow-list.
func IsSupported(mime string) bool {
	_, ok := allowed[mime]
	return ok
}

// Group returns the top-level group of mime, e.g. "image/png" -> "image".
func Group(mime string) string {
	group, _, ok := strings.Cut(mime, "/")
	if !ok {
		return ""
	}
	return group
}

// Extension returns the filename extension to use for a finalized
// upload with the given mime type, e.g. "image/svg+xml" -> "svg".
// The subtype is used verbatim except that any "+" structured syntax
// suffix (e.g. "+xml") is stripped.
func Extension(mime string) string {
	_, subtype, ok := strings.Cut(mime, "/")
	if !ok {
		subtype = mime
	}
	if base, _, found := strings.Cut(subtype, "+"); found {
		return base
	}
	return subtype
}
