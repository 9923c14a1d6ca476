package fileserver

import "strings"

// mimeTable is the small built-in extension -> MIME table from spec.md
// §4.3 step 4 ("Determine MIME from extension via a small built-in table;
// default application/octet-stream"). Grounded in original_source's use of
// mime_guess, reimplemented without a dependency since the pack carries no
// Go MIME-sniffing library beyond net/http's (which sniffs content, not
// extension, and is reserved for the octet-stream fallback case only).
var mimeTable = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".mjs":  "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".xml":  "application/xml; charset=utf-8",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".webp": "image/webp",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".ttf":  "font/ttf",
	".wasm": "application/wasm",
	".pdf":  "application/pdf",
	".map":  "application/json; charset=utf-8",
}

func mimeForPath(path string) string {
	ext := extOf(path)
	if mime, ok := mimeTable[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}

// compressible reports whether a MIME type qualifies for the gzip
// compression step in spec.md §4.3 step 6 (text/*, application/javascript,
// application/json, image/svg+xml).
func compressible(mime string) bool {
	base := mime
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	switch {
	case strings.HasPrefix(base, "text/"):
		return true
	case base == "application/javascript":
		return true
	case base == "application/json":
		return true
	case base == "image/svg+xml":
		return true
	default:
		return false
	}
}
