package component

import (
	"strconv"
	"strings"

	"github.com/weaveproject/weave/pkg/errs"
)

// segment is one parsed path part: a name, optionally followed by an
// array index (spec.md §4.1 path grammar: part := name ('[' digits ']')?).
type segment struct {
	name    string
	hasIdx  bool
	idx     int
}

// parsePath parses "a.b[2].c" into its segments. Whitespace around
// parts and inside brackets is ignored, per spec.md.
func parsePath(path string) ([]segment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errs.New(errs.DomainCommand, errs.CodeBadPath, "component.parsePath", "empty path segment")
		}
		seg, err := parseSegment(part)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func parseSegment(part string) (segment, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return segment{name: part}, nil
	}
	if !strings.HasSuffix(part, "]") {
		return segment{}, errs.New(errs.DomainCommand, errs.CodeBadPath, "component.parseSegment", "unterminated index in \""+part+"\"")
	}
	name := strings.TrimSpace(part[:open])
	if name == "" {
		return segment{}, errs.New(errs.DomainCommand, errs.CodeBadPath, "component.parseSegment", "missing name before index in \""+part+"\"")
	}
	idxStr := strings.TrimSpace(part[open+1 : len(part)-1])
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return segment{}, errs.New(errs.DomainCommand, errs.CodeInvalidIndex, "component.parseSegment", "invalid index in \""+part+"\"")
	}
	return segment{name: name, hasIdx: true, idx: idx}, nil
}

// joinPath renders segments back to canonical dotted-path form.
func joinPath(segs []segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.name)
		if s.hasIdx {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.idx))
			b.WriteByte(']')
		}
	}
	return b.String()
}
