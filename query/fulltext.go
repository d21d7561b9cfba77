package query

import (
	"fmt"
	"strings"

	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/dialect"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/sqlb"
)

// TextResolver resolves a string path and returns match applied to its SQL
// expression, lowered the same way as any other path.
type TextResolver func(path string, match func(expr sqlb.Fragment) sqlb.Fragment) (sqlb.Fragment, error)

// FulltextLowerer lowers Fulltext predicates. Implementations backed by a
// full-text index maintained outside the store plug in here.
type FulltextLowerer interface {
	LowerFulltext(d dialect.Dialect, f Fulltext, text TextResolver) (sqlb.Fragment, error)
}

// Terms lowers a full-text match to case-insensitive substring tests, one
// per whitespace separated term, all of which must match. It needs no index
// and does no ranking.
type Terms struct {
	// Field is matched when the predicate names none.
	Field string
}

func (t Terms) LowerFulltext(d dialect.Dialect, f Fulltext, text TextResolver) (sqlb.Fragment, error) {
	field := f.Field
	if field == "" {
		field = t.Field
	}
	if field == "" {
		return sqlb.Fragment{}, fmt.Errorf("%w: full-text match without a field", docerr.ErrUnsupportedOperator)
	}
	var terms []string
	for _, term := range strings.Fields(f.Text) {
		// wildcards are not escaped portably, drop them
		term = strings.Map(func(r rune) rune {
			switch r {
			case '%', '_', '\\':
				return -1
			}
			return r
		}, term)
		if term != "" {
			terms = append(terms, term)
		}
	}
	if len(terms) == 0 {
		return constant(false), nil
	}
	return text(field, func(expr sqlb.Fragment) sqlb.Fragment {
		parts := make([]sqlb.Fragment, len(terms))
		for i, term := range terms {
			parts[i] = d.ILike(expr, d.Bind(sqlb.Param{Type: column.TypeString, Value: "%" + term + "%"}))
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return sqlb.Paren(sqlb.Join(" AND ", parts))
	})
}
