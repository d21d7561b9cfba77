package store

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/stevemurr/docstore/dialect"
)

// IDScope is what an IDGenerator may use to produce an id.
type IDScope struct {
	Q       dialect.Querier
	Dialect dialect.Dialect
	Table   string
}

// IDGenerator produces document ids.
type IDGenerator interface {
	NewID(ctx context.Context, s IDScope) (string, error)
}

type uuids struct{}

// UUIDs returns a generator of random (version 4) UUIDs.
func UUIDs() IDGenerator {
	return uuids{}
}

func (uuids) NewID(context.Context, IDScope) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type sequence struct{}

// Sequence returns a generator drawing ids from a backend sequence, created
// with the table by Repository.Init.
func Sequence() IDGenerator {
	return sequence{}
}

func (sequence) NewID(ctx context.Context, s IDScope) (string, error) {
	n, err := s.Dialect.NextSequence(ctx, s.Q, s.Table)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

// Counter is a deterministic generator returning Prefix followed by 1, 2, 3...
// It is safe for concurrent use.
type Counter struct {
	Prefix string
	n      atomic.Int64
}

func (c *Counter) NewID(context.Context, IDScope) (string, error) {
	return c.Prefix + strconv.FormatInt(c.n.Add(1), 10), nil
}

// IDGeneratorFor returns the generator named "uuid", "sequence" or "counter".
func IDGeneratorFor(name string) (IDGenerator, error) {
	switch name {
	case "uuid", "":
		return UUIDs(), nil
	case "sequence":
		return Sequence(), nil
	case "counter":
		return &Counter{}, nil
	default:
		return nil, fmt.Errorf("unknown id generator: %q (supported: uuid, sequence, counter)", name)
	}
}

func usesSequence(g IDGenerator) bool {
	_, ok := g.(sequence)
	return ok
}
