package cbltfile

import (
	"fmt"
	"strconv"
)

// Parse reads a Cbltfile document from src and returns its abstract
// configuration tree. It rejects unknown directives and duplicate
// host-spec blocks at parse time, per spec.md §4.1's "unrecognized
// directive ⇒ compile-time rejection; duplicate listener ⇒ reject" —
// applied here, as in original_source/src/config.rs's build_config, at the
// earliest point the information is available.
func Parse(src string) (*Document, error) {
	p := &parser{lx: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	doc := &Document{}
	seen := make(map[string]bool)

	for p.tok.kind != tokenEOF {
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		if seen[block.HostSpec] {
			return nil, fmt.Errorf("cbltfile: duplicate host block %q at line %d", block.HostSpec, block.Line)
		}
		seen[block.HostSpec] = true
		doc.Blocks = append(doc.Blocks, *block)
	}

	return doc, nil
}

type parser struct {
	lx  *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expectString() (string, error) {
	if p.tok.kind != tokenString {
		return "", fmt.Errorf("cbltfile: expected quoted string at line %d, got %q", p.tok.line, p.tok.text)
	}
	s := p.tok.text
	if err := p.advance(); err != nil {
		return "", err
	}
	return s, nil
}

func (p *parser) parseBlock() (*Block, error) {
	line := p.tok.line
	hostSpec, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenLBrace {
		return nil, fmt.Errorf("cbltfile: expected '{' after host spec %q at line %d", hostSpec, p.tok.line)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	block := &Block{HostSpec: hostSpec, Line: line}
	for p.tok.kind != tokenRBrace {
		if p.tok.kind == tokenEOF {
			return nil, fmt.Errorf("cbltfile: unexpected EOF inside block %q", hostSpec)
		}
		d, err := p.parseDirective()
		if err != nil {
			return nil, err
		}
		block.Directives = append(block.Directives, *d)
	}
	if err := p.advance(); err != nil { // consume '}'
		return nil, err
	}
	return block, nil
}

func (p *parser) parseDirective() (*AnyDirective, error) {
	if p.tok.kind != tokenIdent {
		return nil, fmt.Errorf("cbltfile: expected directive name at line %d, got %q", p.tok.line, p.tok.text)
	}
	name := p.tok.text
	line := p.tok.line
	if err := p.advance(); err != nil {
		return nil, err
	}

	switch name {
	case "root":
		return p.parseRoot(line)
	case "file_server":
		return &AnyDirective{Kind: DirFileServer, Line: line}, nil
	case "reverse_proxy":
		return p.parseReverseProxy(line)
	case "redir":
		target, err := p.expectString()
		if err != nil {
			return nil, err
		}
		return &AnyDirective{Kind: DirRedirect, Line: line, RedirectTarget: target}, nil
	case "tls":
		cert, err := p.expectString()
		if err != nil {
			return nil, err
		}
		key, err := p.expectString()
		if err != nil {
			return nil, err
		}
		return &AnyDirective{Kind: DirTLS, Line: line, TLSCertPath: cert, TLSKeyPath: key}, nil
	default:
		return nil, fmt.Errorf("cbltfile: unrecognized directive %q at line %d", name, line)
	}
}

func (p *parser) parseRoot(line int) (*AnyDirective, error) {
	pattern, err := p.expectString()
	if err != nil {
		return nil, err
	}
	fsPath, err := p.expectString()
	if err != nil {
		return nil, err
	}
	d := &AnyDirective{Kind: DirRoot, Line: line, RootPattern: pattern, RootFSPath: fsPath}
	if p.tok.kind == tokenString {
		fallback, err := p.expectString()
		if err != nil {
			return nil, err
		}
		d.RootFallback = fallback
	}
	return d, nil
}

func (p *parser) parseReverseProxy(line int) (*AnyDirective, error) {
	pattern, err := p.expectString()
	if err != nil {
		return nil, err
	}
	d := &AnyDirective{Kind: DirReverseProxy, Line: line, ProxyPattern: pattern}

	for p.tok.kind == tokenString {
		origin, err := p.expectString()
		if err != nil {
			return nil, err
		}
		d.Origins = append(d.Origins, origin)
	}
	if len(d.Origins) == 0 {
		return nil, fmt.Errorf("cbltfile: reverse_proxy %q requires at least one origin at line %d", pattern, line)
	}

	if p.tok.kind == tokenLBrace {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for p.tok.kind != tokenRBrace {
			if p.tok.kind == tokenEOF {
				return nil, fmt.Errorf("cbltfile: unexpected EOF inside reverse_proxy block at line %d", line)
			}
			if err := p.parseLBOption(d); err != nil {
				return nil, err
			}
		}
		if err := p.advance(); err != nil { // consume '}'
			return nil, err
		}
	}
	return d, nil
}

func (p *parser) parseLBOption(d *AnyDirective) error {
	if p.tok.kind != tokenIdent {
		return fmt.Errorf("cbltfile: expected lb_* option at line %d, got %q", p.tok.line, p.tok.text)
	}
	name := p.tok.text
	line := p.tok.line
	if err := p.advance(); err != nil {
		return err
	}

	switch name {
	case "lb_policy":
		v, err := p.expectString()
		if err != nil {
			return err
		}
		d.LBPolicy = v
	case "lb_interval":
		v, err := p.expectString()
		if err != nil {
			return err
		}
		d.LBInterval = v
	case "lb_timeout":
		v, err := p.expectString()
		if err != nil {
			return err
		}
		d.LBTimeout = v
	case "lb_retries":
		v, err := p.expectString()
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("cbltfile: lb_retries must be an integer at line %d: %w", line, err)
		}
		d.LBRetries = n
	default:
		return fmt.Errorf("cbltfile: unrecognized reverse_proxy option %q at line %d", name, line)
	}
	return nil
}
