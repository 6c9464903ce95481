// Package storage enumerates the persistence backends an aggregate can be
// generated and validated for.
//
// The identifier set is closed: unknown identifiers are rejected once, when
// configuration is read, and every later stage works with Kind values.
package storage

import (
	"sort"
	"strings"

	"grove/internal/failure"
)

// Kind identifies a storage backend.
type Kind string

const (
	// Internal keeps aggregates in process memory.
	Internal Kind = "internal"
	// Mongo stores aggregates as documents.
	Mongo Kind = "mongo"
	// Postgres stores aggregates in relational tables.
	Postgres Kind = "postgres"
)

// Backend describes one Kind.
type Backend struct {
	Kind        Kind
	Description string
	// AdapterSuffix is appended to the aggregate name to form the adapter
	// type name, e.g. "Order" + "MongoAdapter".
	AdapterSuffix string
}

var backends = map[Kind]Backend{
	Internal: {Kind: Internal, Description: "in-memory map", AdapterSuffix: "MemoryAdapter"},
	Mongo:    {Kind: Mongo, Description: "document store", AdapterSuffix: "MongoAdapter"},
	Postgres: {Kind: Postgres, Description: "relational store", AdapterSuffix: "PostgresAdapter"},
}

// Kinds lists every known backend in a stable order.
func Kinds() []Kind {
	return []Kind{Internal, Mongo, Postgres}
}

// Lookup returns the backend of k.
func Lookup(k Kind) (Backend, bool) {
	b, ok := backends[k]
	return b, ok
}

// AdapterType returns the adapter type name of aggregate for k.
func (k Kind) AdapterType(aggregate string) string {
	return aggregate + backends[k].AdapterSuffix
}

// Parse resolves an identifier. Matching ignores case and surrounding space.
func Parse(id string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(id)))
	if _, ok := backends[k]; !ok {
		return "", failure.Configf("storage", "unknown storage backend %q (known: %s)", id, knownList())
	}
	return k, nil
}

// Set is an ordered, duplicate-free selection of backends.
type Set []Kind

// ParseSet resolves a list of identifiers. Every unknown identifier is
// reported; duplicates collapse.
func ParseSet(ids []string) (Set, error) {
	seen := make(map[Kind]bool, len(ids))
	var unknown []string
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		k, err := Parse(id)
		if err != nil {
			unknown = append(unknown, id)
			continue
		}
		seen[k] = true
	}
	if len(unknown) > 0 {
		return nil, failure.Configf("storage", "unknown storage backend(s) %s (known: %s)",
			quoteAll(unknown), knownList())
	}
	var set Set
	for _, k := range Kinds() {
		if seen[k] {
			set = append(set, k)
		}
	}
	return set, nil
}

func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, k := range s {
		out[i] = string(k)
	}
	return out
}

func knownList() string {
	names := make([]string, 0, len(backends))
	for k := range backends {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = `"` + s + `"`
	}
	return strings.Join(q, ", ")
}
