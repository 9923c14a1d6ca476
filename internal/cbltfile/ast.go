package cbltfile

// Document is the parsed, not-yet-compiled abstract configuration tree
// (spec.md §1 calls this "an already-validated abstract configuration
// tree" yielded by the configuration-file parser). One Block corresponds
// to one `"host-spec" { ... }` top-level entry.
type Document struct {
	Blocks []Block
}

// Block is one top-level `"HOST_SPEC" { ... }` entry. HostSpec carries both
// the host-matching pattern and, when it contains a port, the listener
// binding — mirroring original_source/src/main.rs's ParsedHost::from_str
// split of "host:port" and its per-port server grouping.
type Block struct {
	HostSpec   string
	Directives []AnyDirective
	Line       int
}

type DirectiveKind int

const (
	DirRoot DirectiveKind = iota
	DirFileServer
	DirReverseProxy
	DirRedirect
	DirTLS
)

// AnyDirective is a tagged union over the five directive shapes the
// grammar in spec.md §6 allows inside a block. Only the fields relevant to
// Kind are populated; this mirrors original_source/src/config.rs's
// Directive enum before it's lowered into routing.Directive by the
// compiler.
type AnyDirective struct {
	Kind DirectiveKind
	Line int

	// DirRoot
	RootPattern  string
	RootFSPath   string
	RootFallback string // "" if absent

	// DirReverseProxy
	ProxyPattern string
	Origins      []string
	LBPolicy     string // "round_robin" | "ip_hash", "" = default
	LBInterval   string // duration string, "" = default
	LBTimeout    string // duration string, "" = default
	LBRetries    int    // 0 = default

	// DirRedirect
	RedirectTarget string

	// DirTLS
	TLSCertPath string
	TLSKeyPath  string
}
