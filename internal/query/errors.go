package query

import "fmt"

// ErrorKind classifies query errors.
type ErrorKind int

const (
	KindEmptyQuery ErrorKind = iota
	KindUnknownType
	KindBadSegment
	KindBadFilter
	KindUnresolvableJoin
)

func (k ErrorKind) String() string {
	switch k {
	case KindEmptyQuery:
		return "empty_query"
	case KindUnknownType:
		return "unknown_type"
	case KindBadSegment:
		return "bad_segment"
	case KindBadFilter:
		return "bad_filter"
	case KindUnresolvableJoin:
		return "unresolvable_join"
	}
	return "unknown"
}

// Error is returned for queries that cannot be run. Token is the offending input.
type Error struct {
	Kind  ErrorKind
	Token string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindEmptyQuery:
		return "invalid query: empty query"
	case KindUnknownType:
		return fmt.Sprintf("invalid query: unknown data type: %s", e.Token)
	case KindBadSegment:
		return fmt.Sprintf("invalid query: could not read segment: %s", e.Token)
	case KindBadFilter:
		return fmt.Sprintf("invalid query: could not read filter: %s", e.Token)
	case KindUnresolvableJoin:
		return fmt.Sprintf("invalid query: cannot connect %s to parent", e.Token)
	}
	return "invalid query"
}
