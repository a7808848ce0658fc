package store

import (
	"context"

	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

// Store defines the interface for card index database operations.
// Reads are safe to run concurrently; the build/rebuild path assumes a
// single writer and runs each batch in its own transaction.
type Store interface {
	// Migrate creates or updates the schema, including the full-text layer
	// when the SQLite build supports it
	Migrate(ctx context.Context) error

	// FullTextAvailable reports whether the linked SQLite provides the fts5
	// module; without it text search degrades to substring scans
	FullTextAvailable(ctx context.Context) bool

	// Verify checks that the index is present and readable. Returns
	// domain.ErrDatabaseUnavailable when it is missing or corrupt.
	Verify(ctx context.Context) error

	// UpsertPrints writes a batch of prints in a single transaction
	UpsertPrints(ctx context.Context, prints []*schema.Print) error

	// ReplaceRelationships drops all edges originating from the given source
	// prints and inserts the new edge set in a single transaction
	ReplaceRelationships(ctx context.Context, sourceIDs []string, edges []*schema.CardRelationship) error

	// RebuildSearchIndex repopulates the full-text table from the prints table
	RebuildSearchIndex(ctx context.Context) error

	// Optimize runs the statistics/compaction pass after a build
	Optimize(ctx context.Context) error

	// Stats reports row counts per table
	Stats(ctx context.Context) (domain.IndexStats, error)

	// GetPrintByID retrieves a single print, nil when absent
	GetPrintByID(ctx context.Context, id string) (*schema.Print, error)

	// GetPrintsByIDs retrieves multiple prints by id
	GetPrintsByIDs(ctx context.Context, ids []string) ([]*schema.Print, error)

	// GetRelationshipsBySourceIDs retrieves all edges originating from the given prints
	GetRelationshipsBySourceIDs(ctx context.Context, sourceIDs []string) ([]*schema.CardRelationship, error)

	// FindPrintsBySlug retrieves candidate prints whose name slug contains
	// the given slug, in deterministic order
	FindPrintsBySlug(ctx context.Context, slug string) ([]*schema.Print, error)

	// QueryPrints runs a structured filter query in deterministic order
	QueryPrints(ctx context.Context, filter domain.QueryFilter) ([]*schema.Print, error)

	// SearchPrintIDs runs a full-text match over name/oracle_text
	SearchPrintIDs(ctx context.Context, text string, limit int) ([]string, error)
}
