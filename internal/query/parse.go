package query

import (
	"strings"
)

// Quantifier decides how a segment's condition applies to the collection named by
// the next segment.
type Quantifier int

const (
	// Any matches when at least one element matches.
	Any Quantifier = iota
	// AllNonEmpty matches when the collection is non-empty and every element matches.
	AllNonEmpty
	// None matches when no element matches, including when the collection is absent.
	None
)

func (q Quantifier) String() string {
	switch q {
	case Any:
		return ":"
	case AllNonEmpty:
		return "&"
	case None:
		return "*"
	}
	return "?"
}

func quantifierFor(r rune) (Quantifier, bool) {
	switch r {
	case ':':
		return Any, true
	case '&':
		return AllNonEmpty, true
	case '*':
		return None, true
	}
	return Any, false
}

// Operator is a filter comparison.
type Operator string

const (
	OpExists    Operator = ""
	OpNotEqual  Operator = "!"
	OpContains  Operator = "~"
	OpEqual     Operator = "="
	OpLess      Operator = "<"
	OpGreater   Operator = ">"
	OpLessEq    Operator = "<="
	OpGreaterEq Operator = ">="
)

// Filter is one bracketed condition, e.g. [total>10].
type Filter struct {
	Input    string
	Field    string
	Op       Operator
	Argument string
}

// Segment names a field or related type, its filters, and the quantifier applied
// to the next segment.
type Segment struct {
	Name       string
	Filters    []Filter
	Quantifier Quantifier
}

// Stage is one line of a query.
type Stage struct {
	Input    string
	Segments []Segment
}

// Parse splits a query into stages, one per non-blank line.
func Parse(q string) ([]Stage, error) {
	var stages []Stage
	for _, line := range strings.Split(q, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		segs, err := parseStage(line)
		if err != nil {
			return nil, err
		}
		stages = append(stages, Stage{Input: line, Segments: segs})
	}
	if len(stages) == 0 {
		return nil, &Error{Kind: KindEmptyQuery}
	}
	return stages, nil
}

// parseStage scans one line. Quantifier characters separate segments only outside
// brackets; inside brackets every character belongs to the filter.
func parseStage(line string) ([]Segment, error) {
	var (
		segs   []Segment
		name   strings.Builder
		filter strings.Builder
		cur    Segment
		inside bool
	)

	finish := func(q Quantifier) error {
		cur.Name = strings.TrimSpace(name.String())
		if cur.Name == "" {
			return &Error{Kind: KindBadSegment, Token: line}
		}
		cur.Quantifier = q
		segs = append(segs, cur)
		cur = Segment{}
		name.Reset()
		return nil
	}

	for _, r := range line {
		if inside {
			if r == ']' {
				f, err := parseFilter(filter.String())
				if err != nil {
					return nil, err
				}
				cur.Filters = append(cur.Filters, f)
				filter.Reset()
				inside = false
				continue
			}
			filter.WriteRune(r)
			continue
		}

		switch {
		case r == '[':
			inside = true
		case r == ']':
			return nil, &Error{Kind: KindBadFilter, Token: line}
		default:
			if q, ok := quantifierFor(r); ok {
				if err := finish(q); err != nil {
					return nil, err
				}
				continue
			}
			if len(cur.Filters) > 0 && !isSpace(r) {
				// Text after a filter but before a quantifier.
				return nil, &Error{Kind: KindBadSegment, Token: line}
			}
			name.WriteRune(r)
		}
	}

	if inside {
		return nil, &Error{Kind: KindBadFilter, Token: "[" + filter.String()}
	}
	if strings.TrimSpace(name.String()) != "" || len(cur.Filters) > 0 {
		if err := finish(Any); err != nil {
			return nil, err
		}
	}
	if len(segs) == 0 {
		return nil, &Error{Kind: KindBadSegment, Token: line}
	}
	return segs, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r'
}

// parseFilter splits "field<op>argument". Text with no operator is an existence check.
func parseFilter(text string) (Filter, error) {
	f := Filter{Input: strings.TrimSpace(text)}

	i := strings.IndexAny(text, "!~=<>")
	if i < 0 {
		f.Field = f.Input
		if f.Field == "" {
			return f, &Error{Kind: KindBadFilter, Token: "[]"}
		}
		return f, nil
	}

	op := text[i : i+1]
	rest := text[i+1:]
	if strings.ContainsAny(op, "!<>") && strings.HasPrefix(rest, "=") {
		op += "="
		rest = rest[1:]
	}

	f.Field = strings.TrimSpace(text[:i])
	f.Argument = strings.TrimSpace(rest)
	switch op {
	case "!", "!=":
		f.Op = OpNotEqual
	default:
		f.Op = Operator(op)
	}
	if f.Field == "" {
		return f, &Error{Kind: KindBadFilter, Token: f.Input}
	}
	return f, nil
}
