package store

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/query"
	"github.com/stevemurr/docstore/schema"
)

// Options configures a Repository.
type Options struct {
	// Table is the document table name.
	Table string
	// Schema declares the document fields. The system fields are always
	// declared.
	Schema schema.Provider
	// Promote chooses the keys stored in dedicated columns.
	Promote column.Policy
	// IDs generates the ids of created documents that have none.
	IDs IDGenerator
	// Strict rejects keys the schema does not declare. When false they are
	// stored unchecked in the residual column.
	Strict bool
	// Facets lists the types declaring a facet, for MixinPseudo predicates.
	Facets query.FacetResolver
	// Paths resolves PathPseudo predicates. Nil resolves paths by walking
	// the parent and name columns of the table.
	Paths query.PathResolver
	// Fulltext lowers Fulltext predicates; nil rejects them.
	Fulltext query.FulltextLowerer
	// Logger receives statement and schema logs.
	Logger *slog.Logger
	// Registerer, when set, registers the store metrics.
	Registerer prometheus.Registerer
}

// DefaultOptions returns the options used when none are given: a
// "documents" table, random ids, strict validation and the default logger.
func DefaultOptions() Options {
	return Options{
		Table:  "documents",
		Schema: schema.Static(nil),
		IDs:    UUIDs(),
		Strict: true,
		Logger: slog.Default(),
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.Table == "" {
		o.Table = d.Table
	}
	if o.Schema == nil {
		o.Schema = d.Schema
	}
	if o.IDs == nil {
		o.IDs = d.IDs
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
}
