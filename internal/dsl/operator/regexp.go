package operator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/syntrixbase/livequery/pkg/model"
)

// Pattern is a compiled regexp payload. Source and Flags are the canonical
// form used for signatures; Flags holds only the effective flags, sorted.
type Pattern struct {
	Source string `json:"source"`
	Flags  string `json:"flags,omitempty"`

	re *regexp.Regexp
}

// ParsePattern accepts "/pattern/flags" strings or {"value": ..., "flags": ...}
// objects. Flags i, m and s map to RE2 flags; g, u and y are ignored.
func ParsePattern(v interface{}) (*Pattern, error) {
	var source, flags string
	switch t := v.(type) {
	case string:
		if len(t) < 2 || t[0] != '/' {
			return nil, fmt.Errorf("%w: %q is not of the form /pattern/flags", ErrInvalidPattern, t)
		}
		end := strings.LastIndex(t, "/")
		if end == 0 {
			return nil, fmt.Errorf("%w: %q is not of the form /pattern/flags", ErrInvalidPattern, t)
		}
		source, flags = t[1:end], t[end+1:]
	case map[string]interface{}:
		s, ok := t["value"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: missing string 'value'", ErrInvalidPattern)
		}
		source = s
		if f, present := t["flags"]; present {
			fs, ok := f.(string)
			if !ok {
				return nil, fmt.Errorf("%w: 'flags' must be a string", ErrInvalidPattern)
			}
			flags = fs
		}
		for k := range t {
			if k != "value" && k != "flags" {
				return nil, fmt.Errorf("%w: unexpected attribute %q", ErrInvalidPattern, k)
			}
		}
	default:
		return nil, fmt.Errorf("%w: expected a string or an object, got %T", ErrInvalidPattern, v)
	}

	effective, err := effectiveFlags(flags)
	if err != nil {
		return nil, err
	}

	expr := source
	if effective != "" {
		expr = "(?" + effective + ")" + source
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return &Pattern{Source: source, Flags: effective, re: re}, nil
}

func effectiveFlags(flags string) (string, error) {
	set := make(map[rune]struct{}, len(flags))
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			set[f] = struct{}{}
		case 'g', 'u', 'y':
		default:
			return "", fmt.Errorf("%w: unsupported flag %q", ErrInvalidPattern, f)
		}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return strings.Join(out, ""), nil
}

// MatchString reports whether s matches the pattern.
func (p *Pattern) MatchString(s string) bool {
	return p.re != nil && p.re.MatchString(s)
}

func (p *Pattern) matchField(field string, doc map[string]interface{}) bool {
	v, ok := model.Lookup(doc, field)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && p.MatchString(s)
}
