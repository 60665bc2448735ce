package query

// matches reports whether node satisfies segs[depth:]. The node must pass every filter
// of its segment, and if another segment follows, the field it names must satisfy
// this segment's quantifier. An absent or null field only satisfies None.
func matches(node any, segs []Segment, depth int) bool {
	if node == nil {
		return false
	}
	seg := segs[depth]
	for _, f := range seg.Filters {
		if !f.match(node) {
			return false
		}
	}
	if depth+1 >= len(segs) {
		return true
	}

	m, ok := asMap(node)
	if !ok {
		return false
	}
	child, present := m[segs[depth+1].Name]
	if !present || child == nil {
		return seg.Quantifier == None
	}

	elems, ok := child.([]any)
	if !ok {
		elems = []any{child}
	}
	return quantify(seg.Quantifier, elems, func(el any) bool {
		return matches(el, segs, depth+1)
	})
}

func quantify(q Quantifier, elems []any, pred func(any) bool) bool {
	switch q {
	case Any:
		for _, el := range elems {
			if pred(el) {
				return true
			}
		}
		return false
	case AllNonEmpty:
		if len(elems) == 0 {
			return false
		}
		for _, el := range elems {
			if !pred(el) {
				return false
			}
		}
		return true
	case None:
		for _, el := range elems {
			if pred(el) {
				return false
			}
		}
		return true
	}
	return false
}
