// Package regpath parses asset registry paths of the form
//
//	[protocol::][namespace/]item[:tag]
//
// The parser treats item as the primary component, so a bare "hg38" lands in
// Item with an empty Namespace. Callers that need the genome in Namespace
// must correct the result themselves (see archive.Resolve).
package regpath

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	protocolSep  = "::"
	namespaceSep = "/"
	tagSep       = ":"
)

// Path is a parsed registry path. Unset components are empty strings.
type Path struct {
	Protocol  string
	Namespace string
	Item      string
	Tag       string
}

// String renders the path back in registry notation.
func (p Path) String() string {
	var b strings.Builder

	if p.Protocol != "" {
		b.WriteString(p.Protocol + protocolSep)
	}

	if p.Namespace != "" {
		b.WriteString(p.Namespace + namespaceSep)
	}

	b.WriteString(p.Item)

	if p.Tag != "" {
		b.WriteString(tagSep + p.Tag)
	}

	return b.String()
}

// Parse splits raw into its registry path components. Each component is
// NFC-normalized so that names typed on different platforms compare equal.
func Parse(raw string) (Path, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Path{}, fmt.Errorf("regpath: empty registry path")
	}

	var p Path

	if proto, rest, ok := strings.Cut(s, protocolSep); ok {
		p.Protocol = proto
		s = rest
	}

	if ns, rest, ok := strings.Cut(s, namespaceSep); ok {
		p.Namespace = ns
		s = rest
	}

	if item, tag, ok := strings.Cut(s, tagSep); ok {
		p.Item = item
		p.Tag = tag
	} else {
		p.Item = s
	}

	p.Protocol = norm.NFC.String(p.Protocol)
	p.Namespace = norm.NFC.String(p.Namespace)
	p.Item = norm.NFC.String(p.Item)
	p.Tag = norm.NFC.String(p.Tag)

	if err := p.validate(raw); err != nil {
		return Path{}, err
	}

	return p, nil
}

// ParseAll parses every raw path, stopping at the first invalid one.
func ParseAll(raws []string) ([]Path, error) {
	paths := make([]Path, 0, len(raws))

	for _, raw := range raws {
		p, err := Parse(raw)
		if err != nil {
			return nil, err
		}

		paths = append(paths, p)
	}

	return paths, nil
}

func (p Path) validate(raw string) error {
	if p.Item == "" {
		return fmt.Errorf("regpath: %q has no item component", raw)
	}

	for _, c := range []string{p.Protocol, p.Namespace, p.Item, p.Tag} {
		if strings.ContainsAny(c, "/:") || strings.ContainsFunc(c, isSpace) {
			return fmt.Errorf("regpath: %q has an invalid component %q", raw, c)
		}
	}

	return nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
