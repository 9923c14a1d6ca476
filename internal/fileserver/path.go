package fileserver

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/cbltio/cblt/internal/cblterr"
)

// resolve implements spec.md §4.3 step 1: strip query, percent-decode,
// reject any decoded segment equal to "..", join with root, and verify the
// result still lives under root after canonicalization. Grounded in
// original_source/src/file_server.rs's sanitize_path, which pops path
// components on ParentDir and fails the whole resolution if a pop
// underflows; here we reject outright instead of popping, which is
// equivalent for a "must stay under root" contract and simpler to reason
// about in Go without a mutable stack.
func resolve(root, requestPath string) (string, error) {
	decoded, err := url.PathUnescape(requestPath)
	if err != nil {
		return "", cblterr.New(cblterr.KindForbidden, "invalid percent-encoding")
	}

	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." {
			return "", cblterr.New(cblterr.KindForbidden, "path escapes root")
		}
	}

	cleanRel := filepath.Clean("/" + decoded)
	full := filepath.Join(root, cleanRel)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", cblterr.Wrap(cblterr.KindIO, "resolve root", err)
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", cblterr.Wrap(cblterr.KindIO, "resolve path", err)
	}
	if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator)) {
		return "", cblterr.New(cblterr.KindForbidden, "path escapes root")
	}

	return absFull, nil
}
