// Package contenttype infers an object's expected MIME type from its key name.
package contenttype

import (
	"mime"
	"path"
	"strings"
)

// builtin pins the common web types so results do not depend on the host's mime.types.
var builtin = map[string]string{
	".css":   "text/css",
	".csv":   "text/csv",
	".gif":   "image/gif",
	".htm":   "text/html",
	".html":  "text/html",
	".ico":   "image/vnd.microsoft.icon",
	".jpeg":  "image/jpeg",
	".jpg":   "image/jpeg",
	".js":    "application/javascript",
	".json":  "application/json",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".pdf":   "application/pdf",
	".png":   "image/png",
	".svg":   "image/svg+xml",
	".txt":   "text/plain",
	".wasm":  "application/wasm",
	".webm":  "video/webm",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".xml":   "application/xml",
	".zip":   "application/zip",
}

// Guesser maps key names to MIME types
type Guesser struct {
	overrides map[string]string
}

// New creates a Guesser. Override keys are extensions, with or without the leading dot.
func New(overrides map[string]string) *Guesser {
	g := &Guesser{overrides: make(map[string]string, len(overrides))}
	for ext, ct := range overrides {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		g.overrides[ext] = ct
	}
	return g
}

// Guess returns the expected content type for key, or false when it cannot be inferred
func (g *Guesser) Guess(key string) (string, bool) {
	ext := extension(key)
	if ext == "" {
		return "", false
	}

	if ct, ok := g.overrides[ext]; ok {
		return ct, true
	}
	if ct, ok := builtin[ext]; ok {
		return ct, true
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "", false
	}

	// TypeByExtension appends "; charset=utf-8" to text types
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", false
	}
	return mediaType, true
}

func extension(key string) string {
	base := path.Base(key)
	if base == "." || base == "/" {
		return ""
	}

	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 || idx == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[idx:])
}
