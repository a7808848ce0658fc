package domain

import (
	"time"
)

// RelationKind classifies a directed edge between two prints
type RelationKind string

const (
	// RelationComboPiece links sibling faces/parts of the same physical card
	// (double-faced, split, adventure)
	RelationComboPiece RelationKind = "combo_piece"
	// RelationMeldPart links a meld half to its sibling half
	RelationMeldPart RelationKind = "meld_part"
	// RelationMeldResult links a meld half to the combined card
	RelationMeldResult RelationKind = "meld_result"
	// RelationToken links a card to the token prints its text creates
	RelationToken RelationKind = "token"
)

// QueryFilter is a structured filter against the print index.
// Zero values mean "no constraint" for the corresponding field.
type QueryFilter struct {
	// Name matches the card name; see NameExact for the matching mode
	Name string
	// NameExact switches Name from substring to case-insensitive equality
	NameExact bool
	// SetCode restricts to a single set
	SetCode string
	// Languages restricts to the given language codes
	Languages []string
	// Rarity restricts to a single rarity
	Rarity string
	// TypeLine is a substring match against the type line
	TypeLine string
	// OracleText is a free-text match against the rules text
	OracleText string
	// ColorIdentity restricts to prints whose color identity is a subset
	// of the given colors
	ColorIdentity []string
	// IsToken restricts to token / non-token prints when set
	IsToken *bool
	// IsBasicLand restricts to basic land / non-basic prints when set
	IsBasicLand *bool
	// Limit caps the number of returned rows (0 = no cap)
	Limit int
}

// Request is one deck-list entry: a card name with optional set preference
// and a quantity. Produced by deck parsers, consumed by the resolver.
type Request struct {
	Name     string
	SetCode  string
	Quantity int
}

// ResolveOptions tune candidate selection during name resolution
type ResolveOptions struct {
	// PreferredSet breaks score ties toward prints from this set
	PreferredSet string
	// PreferredLang breaks score ties toward prints in this language
	PreferredLang string
}

// Resolution is the outcome of expanding a set of requested names into
// the complete set of print ids to fetch. Misses are collected, never raised.
type Resolution struct {
	// PrintIDs is the deduplicated, deterministically ordered fetch set
	PrintIDs []string
	// NotFound lists requested names that matched no print
	NotFound []string
}

// FetchJob is one pending download: a print image to materialize on disk
type FetchJob struct {
	PrintID         string
	DisplayName     string
	SourceURI       string
	DestinationPath string
	// Retries counts attempts already spent on this job in a prior run
	Retries int
}

// ErrorClass buckets a failed fetch for reporting
type ErrorClass string

const (
	ErrorClassNone       ErrorClass = ""
	ErrorClassTimeout    ErrorClass = "timeout"
	ErrorClassConnection ErrorClass = "connection"
	ErrorClassHTTP       ErrorClass = "http"
	ErrorClassBadURI     ErrorClass = "bad_uri"
	ErrorClassFilesystem ErrorClass = "filesystem"
	ErrorClassCanceled   ErrorClass = "canceled"
)

// FetchResult is the terminal outcome of a single job
type FetchResult struct {
	Job        FetchJob
	Success    bool
	Skipped    bool
	Bytes      int64
	Elapsed    time.Duration
	Attempts   int
	ErrorClass ErrorClass
	Err        error
}

// FetchSummary aggregates a batch. Counters are commutative: completion
// order of the underlying jobs never changes the summary.
type FetchSummary struct {
	BatchID        string
	TotalRequested int
	Successful     int
	Failed         int
	Skipped        int
	TotalBytes     int64
	Elapsed        time.Duration
	// FailedJobs carry their accumulated retry counts and can be passed
	// back to the orchestrator as-is for a re-run
	FailedJobs []FetchJob
}

// IndexStats reports row counts after a build, surfaced by the indexer binary
type IndexStats struct {
	Prints        int64
	Relationships int64
	SearchRows    int64
}
