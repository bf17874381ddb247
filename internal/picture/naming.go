package picture

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fixed derivative targets. The labels are bound to these constants, never
// inferred from a produced bitmap: medium is always the 640x360 rendition
// and small the 320x180 one. Output aspect ratio may differ from the
// source; that is accepted behavior.
const (
	MediumSuffix = "_medium"
	SmallSuffix  = "_small"

	MediumWidth  = 640
	MediumHeight = 360
	SmallWidth   = 320
	SmallHeight  = 180
)

// SplitExt splits a file name (or URL path) into base name and extension.
// The extension is returned without the dot; a name without a dot yields
// an empty extension.
func SplitExt(filename string) (base, ext string) {
	file := filename
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	i := strings.LastIndexByte(file, '.')
	if i < 0 {
		return file, ""
	}
	return file[:i], file[i+1:]
}

// DirForTag returns the upload directory for a tag, with a trailing
// separator stripped off by path semantics left to the caller.
func DirForTag(uploadRoot, tag string) string {
	return path.Join(uploadRoot, tag)
}

// BaseURL returns the public URL prefix under which a tag's pictures are
// served.
func BaseURL(publicHost, tag string) string {
	return "http://" + publicHost + "/uploads/" + tag + "/"
}

// NewBasename returns a fresh timestamped base name for a capture. A short
// random suffix keeps two captures within the same second from colliding.
func NewBasename() string {
	stamp := time.Now().Format("20060102150405")
	return stamp + "-" + uuid.NewString()[:8]
}

// DerivativeNames returns the three file names for a capture: original,
// medium and small, in that order.
func DerivativeNames(basename, ext string) [3]string {
	return [3]string{
		basename + "." + ext,
		basename + MediumSuffix + "." + ext,
		basename + SmallSuffix + "." + ext,
	}
}
