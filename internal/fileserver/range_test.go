package fileserver

import "testing"

func TestParseRange(t *testing.T) {
	const size = int64(1000)
	cases := []struct {
		name    string
		header  string
		wantErr bool
		start   int64
		end     int64
	}{
		{"simple", "bytes=0-99", false, 0, 99},
		{"open end", "bytes=900-", false, 900, 999},
		{"suffix", "bytes=-100", false, 900, 999},
		{"suffix larger than file", "bytes=-5000", false, 0, 999},
		{"clamped end", "bytes=500-5000", false, 500, 999},
		{"missing prefix", "0-99", true, 0, 0},
		{"multi range", "bytes=0-10,20-30", true, 0, 0},
		{"start past eof", "bytes=1000-", true, 0, 0},
		{"end before start", "bytes=100-50", true, 0, 0},
		{"empty", "bytes=-", true, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			br, err := parseRange(c.header, size)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", c.header)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", c.header, err)
			}
			if br.Start != c.start || br.End != c.end {
				t.Errorf("parseRange(%q) = [%d,%d], want [%d,%d]", c.header, br.Start, br.End, c.start, c.end)
			}
		})
	}
}

func TestByteRangeLen(t *testing.T) {
	br := byteRange{Start: 10, End: 19}
	if br.Len() != 10 {
		t.Errorf("Len() = %d, want 10", br.Len())
	}
}
