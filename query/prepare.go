package query

import (
	"context"
	"fmt"

	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/state"
)

// PathResolver resolves a document path to the document id.
type PathResolver interface {
	ResolvePath(ctx context.Context, path string) (id string, ok bool, err error)
}

// FacetResolver lists the document types declaring a facet.
type FacetResolver interface {
	TypesWithFacet(ctx context.Context, facet string) ([]string, error)
}

// Resolvers are the lookups Prepare may need. Either may be nil when the
// predicates do not use the matching pseudo path.
type Resolvers struct {
	Paths  PathResolver
	Facets FacetResolver
}

// Prepare rewrites the PathPseudo and MixinPseudo comparisons of p into
// comparisons on system columns, running the lookups they need. Predicates
// without pseudo paths are returned unchanged.
func Prepare(ctx context.Context, p Predicate, r Resolvers) (Predicate, error) {
	switch x := p.(type) {
	case And:
		out := make(And, len(x))
		for i, e := range x {
			var err error
			if out[i], err = Prepare(ctx, e, r); err != nil {
				return nil, err
			}
		}
		return out, nil
	case Or:
		out := make(Or, len(x))
		for i, e := range x {
			var err error
			if out[i], err = Prepare(ctx, e, r); err != nil {
				return nil, err
			}
		}
		return out, nil
	case Not:
		// negated pseudo comparisons lower to their negated form, which
		// keeps the widening of negated list membership
		if cmp, ok := x.P.(Comparison); ok && (cmp.Path == PathPseudo || cmp.Path == MixinPseudo) {
			if op, ok := cmp.Op.Negate(); ok {
				cmp.Op = op
				return Prepare(ctx, cmp, r)
			}
		}
		e, err := Prepare(ctx, x.P, r)
		if err != nil {
			return nil, err
		}
		return Not{P: e}, nil
	case Comparison:
		switch x.Path {
		case PathPseudo:
			return preparePath(ctx, x, r.Paths)
		case MixinPseudo:
			return prepareMixin(ctx, x, r.Facets)
		}
	case IsNull:
		if x.Path == PathPseudo || x.Path == MixinPseudo {
			return nil, fmt.Errorf("%w: IS NULL on %s", docerr.ErrUnsupportedOperator, x.Path)
		}
	case IsNotNull:
		if x.Path == PathPseudo || x.Path == MixinPseudo {
			return nil, fmt.Errorf("%w: IS NOT NULL on %s", docerr.ErrUnsupportedOperator, x.Path)
		}
	}
	return p, nil
}

func strs(c Comparison) ([]string, error) {
	out := make([]string, len(c.Values))
	for i, v := range c.Values {
		s, ok := v.(state.String)
		if !ok {
			return nil, docerr.AtPath(docerr.ErrTypeMismatch, c.Path, "expected string, got %v", kindOf(v))
		}
		out[i] = string(s)
	}
	return out, nil
}

func kindOf(v state.Value) string {
	if v == nil {
		return "null"
	}
	return v.Kind().String()
}

func checkArity(c Comparison) error {
	if n := c.Op.arity(); n >= 0 && len(c.Values) != n {
		return fmt.Errorf("%w: %s takes %d values, got %d", docerr.ErrUnsupportedOperator, c.Op, n, len(c.Values))
	}
	return nil
}

func preparePath(ctx context.Context, c Comparison, paths PathResolver) (Predicate, error) {
	if paths == nil {
		return nil, fmt.Errorf("%w: %s without a path resolver", docerr.ErrUnsupportedOperator, c.Path)
	}
	if err := checkArity(c); err != nil {
		return nil, err
	}
	values, err := strs(c)
	if err != nil {
		return nil, err
	}
	var ids []state.Value
	for _, p := range values {
		id, ok, err := paths.ResolvePath(ctx, p)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, state.String(id))
		}
	}
	switch c.Op {
	case Eq, In:
		if len(ids) == 0 {
			return False, nil
		}
		return Compare(column.KeyID, In, ids...), nil
	case Ne, NotIn:
		if len(ids) == 0 {
			return True, nil
		}
		return Compare(column.KeyID, NotIn, ids...), nil
	case StartsWith:
		if len(values) == 1 && values[0] == "/" {
			// every document is below the root
			return True, nil
		}
		if len(ids) == 0 {
			return False, nil
		}
		return Compare(column.KeyAncestorIDs, Eq, ids[0]), nil
	}
	return nil, fmt.Errorf("%w: %s on %s", docerr.ErrUnsupportedOperator, c.Op, c.Path)
}

// prepareMixin lowers a facet test: the primary type declares the facet, or
// the facet was added to the document as a mixin.
func prepareMixin(ctx context.Context, c Comparison, facets FacetResolver) (Predicate, error) {
	if facets == nil {
		return nil, fmt.Errorf("%w: %s without a facet resolver", docerr.ErrUnsupportedOperator, c.Path)
	}
	if err := checkArity(c); err != nil {
		return nil, err
	}
	values, err := strs(c)
	if err != nil {
		return nil, err
	}
	var negate bool
	switch c.Op {
	case Eq, In:
	case Ne, NotIn:
		negate = true
	default:
		return nil, fmt.Errorf("%w: %s on %s", docerr.ErrUnsupportedOperator, c.Op, c.Path)
	}
	var pos Or
	var neg And
	for _, facet := range values {
		types, err := facets.TypesWithFacet(ctx, facet)
		if err != nil {
			return nil, err
		}
		names := make([]state.Value, len(types))
		for i, t := range types {
			names[i] = state.String(t)
		}
		pos = append(pos, Or{
			Compare(column.KeyPrimaryType, In, names...),
			Compare(column.KeyMixinTypes, Eq, state.String(facet)),
		})
		neg = append(neg, And{
			Compare(column.KeyPrimaryType, NotIn, names...),
			Compare(column.KeyMixinTypes, Ne, state.String(facet)),
		})
	}
	if negate {
		return neg, nil
	}
	return pos, nil
}
