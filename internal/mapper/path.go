package mapper

import (
	"fmt"
	"strconv"
	"strings"
)

// PathSegment is one "key" or "key[index]" step of a source path.
type PathSegment struct {
	Key      string
	Index    int
	HasIndex bool
}

// Path is a parsed dot path such as "custom_fields[0].value".
type Path struct {
	raw      string
	Segments []PathSegment
}

func (p Path) String() string {
	return p.raw
}

// IsZero reports whether the path is empty.
func (p Path) IsZero() bool {
	return len(p.Segments) == 0
}

// ParsePath parses "a.b[2].c". Each segment is a key optionally followed by
// one or more [n] indexes.
func ParsePath(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Path{}, fmt.Errorf("empty path")
	}
	var segments []PathSegment
	for _, part := range strings.Split(raw, ".") {
		if part == "" {
			return Path{}, fmt.Errorf("invalid path %q: empty segment", raw)
		}
		key := part
		var indexes []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			key = part[:open]
			rest := part[open:]
			for rest != "" {
				if rest[0] != '[' {
					return Path{}, fmt.Errorf("invalid path %q: unexpected %q", raw, rest)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return Path{}, fmt.Errorf("invalid path %q: unterminated index", raw)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return Path{}, fmt.Errorf("invalid path %q: bad index %q", raw, rest[1:end])
				}
				indexes = append(indexes, n)
				rest = rest[end+1:]
			}
		}
		if key == "" {
			return Path{}, fmt.Errorf("invalid path %q: index without key", raw)
		}
		if len(indexes) == 0 {
			segments = append(segments, PathSegment{Key: key})
			continue
		}
		segments = append(segments, PathSegment{Key: key, Index: indexes[0], HasIndex: true})
		for _, n := range indexes[1:] {
			segments = append(segments, PathSegment{Index: n, HasIndex: true})
		}
	}
	return Path{raw: raw, Segments: segments}, nil
}

// Resolve walks doc along p. A missing key, an out-of-range index or a nil
// value all yield ok=false; none of them is an error.
func (p Path) Resolve(doc any) (any, bool) {
	current := doc
	for _, seg := range p.Segments {
		if seg.Key != "" {
			next, ok := lookupKey(current, seg.Key)
			if !ok {
				return nil, false
			}
			current = next
		}
		if seg.HasIndex {
			next, ok := lookupIndex(current, seg.Index)
			if !ok {
				return nil, false
			}
			current = next
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// ResolvePath parses and resolves in one step; unparsable paths resolve to nothing.
func ResolvePath(doc any, raw string) (any, bool) {
	p, err := ParsePath(raw)
	if err != nil {
		return nil, false
	}
	return p.Resolve(doc)
}

func lookupKey(container any, key string) (any, bool) {
	switch c := container.(type) {
	case Document:
		v, ok := c[key]
		return v, ok
	case map[string]any:
		v, ok := c[key]
		return v, ok
	case map[string]string:
		v, ok := c[key]
		return v, ok
	default:
		return nil, false
	}
}

func lookupIndex(container any, index int) (any, bool) {
	switch c := container.(type) {
	case []any:
		if index < len(c) {
			return c[index], true
		}
	case []map[string]any:
		if index < len(c) {
			return c[index], true
		}
	case []string:
		if index < len(c) {
			return c[index], true
		}
	}
	return nil, false
}
