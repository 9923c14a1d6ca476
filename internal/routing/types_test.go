package routing

import "testing"

func TestMatchesPath(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"*", "/anything", true},
		{"/api/*", "/api/v1/users", true},
		{"/api/*", "/other", false},
		{"/exact", "/exact", true},
		{"/exact", "/exact/", false},
	}
	for _, c := range cases {
		if got := MatchesPath(c.pattern, c.path); got != c.want {
			t.Errorf("MatchesPath(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestHostBlockMatchesHost(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"*", "anything.example.com", true},
		{"*:8080", "foo.example.com:8080", true},
		{"*:8080", "foo.example.com:9090", false},
		{"example.com", "example.com", true},
		{"example.com", "EXAMPLE.COM", true},
		{"example.com", "other.com", false},
	}
	for _, c := range cases {
		hb := HostBlock{HostPattern: c.pattern}
		if got := hb.MatchesHost(c.host); got != c.want {
			t.Errorf("MatchesHost(%q) on pattern %q = %v, want %v", c.host, c.pattern, got, c.want)
		}
	}
}

func TestTableMatchFirstWinsAndRootContext(t *testing.T) {
	table := &Table{Listeners: map[string]*Listener{
		"0.0.0.0:80": {
			Address: "0.0.0.0:80",
			HostBlocks: []HostBlock{
				{
					HostPattern: "example.com",
					Directives: []Directive{
						{Kind: DirectiveRoot, PathPattern: "*", FilesystemRoot: "/var/www"},
						{Kind: DirectiveFileServer},
					},
				},
				{
					HostPattern: "*",
					Directives: []Directive{
						{Kind: DirectiveRedirect, Target: "https://example.com{uri}"},
					},
				},
			},
		},
	}}

	result, ok := table.Match("0.0.0.0:80", "example.com", "/index.html")
	if !ok {
		t.Fatal("expected match")
	}
	if result.Directive.Kind != DirectiveFileServer {
		t.Errorf("expected FileServer directive, got %v", result.Directive.Kind)
	}
	if result.RootPath != "/var/www" {
		t.Errorf("expected RootPath /var/www, got %q", result.RootPath)
	}

	result2, ok := table.Match("0.0.0.0:80", "other.com", "/whatever")
	if !ok {
		t.Fatal("expected fallback wildcard host match")
	}
	if result2.Directive.Kind != DirectiveRedirect {
		t.Errorf("expected redirect directive for wildcard host, got %v", result2.Directive.Kind)
	}
}

func TestTableMatchNoListener(t *testing.T) {
	table := &Table{Listeners: map[string]*Listener{}}
	if _, ok := table.Match("0.0.0.0:80", "example.com", "/"); ok {
		t.Fatal("expected no match for unknown listener")
	}
}

func TestPublisherSwap(t *testing.T) {
	t1 := &Table{Listeners: map[string]*Listener{}}
	p := NewPublisher(t1)
	if p.Load() != t1 {
		t.Fatal("expected initial table")
	}
	t2 := &Table{Listeners: map[string]*Listener{}}
	p.Publish(t2)
	if p.Load() != t2 {
		t.Fatal("expected swapped table")
	}
}
