package fileserver

import (
	"strconv"
	"strings"

	"github.com/cbltio/cblt/internal/cblterr"
)

// byteRange is an inclusive [Start, End] byte range resolved against a
// known content length.
type byteRange struct {
	Start, End int64
}

// parseRange implements spec.md §4.3 step 5 and is grounded in
// original_source/src/request.rs's parse_range_header: a single
// "bytes=a-b" range only (no multi-range support), with open-start
// ("bytes=-500", a suffix range) and open-end ("bytes=500-", to EOF) forms.
// Returns cblterr.KindRangeNotSatisfiable on any malformed or unsatisfiable
// range, matching spec.md's 416 + Content-Range: bytes */LEN behavior at
// the caller.
func parseRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, cblterr.New(cblterr.KindRangeNotSatisfiable, "missing bytes= prefix")
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return byteRange{}, cblterr.New(cblterr.KindRangeNotSatisfiable, "multi-range not supported")
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, cblterr.New(cblterr.KindRangeNotSatisfiable, "malformed range")
	}

	startStr, endStr := parts[0], parts[1]

	switch {
	case startStr == "" && endStr == "":
		return byteRange{}, cblterr.New(cblterr.KindRangeNotSatisfiable, "empty range")

	case startStr == "": // suffix range: bytes=-N (last N bytes)
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, cblterr.New(cblterr.KindRangeNotSatisfiable, "malformed suffix range")
		}
		if n > size {
			n = size
		}
		return byteRange{Start: size - n, End: size - 1}, nil

	case endStr == "": // open-end range: bytes=N-
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 || start >= size {
			return byteRange{}, cblterr.New(cblterr.KindRangeNotSatisfiable, "range start beyond end of file")
		}
		return byteRange{Start: start, End: size - 1}, nil

	default:
		start, err1 := strconv.ParseInt(startStr, 10, 64)
		end, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil || start < 0 || end < start || start >= size {
			return byteRange{}, cblterr.New(cblterr.KindRangeNotSatisfiable, "malformed range bounds")
		}
		if end >= size {
			end = size - 1
		}
		return byteRange{Start: start, End: end}, nil
	}
}

func (r byteRange) Len() int64 {
	return r.End - r.Start + 1
}
