package resolver

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/index"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

// Name-match scoring tiers. A higher tier always beats any number of
// lower-tier candidates.
const (
	scoreNone      = 0
	scoreSubstring = 1
	scorePrefix    = 2
	scoreExact     = 3
)

// Resolver expands requested card names into the complete set of print ids
// to fetch, following relationship edges transitively
type Resolver struct {
	index *index.CardIndex
}

// New creates a resolver over the given card index
func New(idx *index.CardIndex) *Resolver {
	return &Resolver{index: idx}
}

// Resolve maps each request to its best-matching print, then expands the
// result set across relationship edges (faces, meld parts and results,
// created tokens). Expansion is cycle-safe and its output order is
// deterministic: seed order first, then edge discovery order. Names that
// match nothing are collected in the NotFound list; they never abort the
// batch.
func (r *Resolver) Resolve(ctx context.Context, requests []domain.Request, opts domain.ResolveOptions) (*domain.Resolution, error) {
	resolution := &domain.Resolution{
		PrintIDs: []string{},
		NotFound: []string{},
	}

	visited := make(map[string]struct{})
	seenNames := make(map[string]struct{})
	missedNames := make(map[string]struct{})

	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slug := domain.Slugify(req.Name)
		if slug == "" {
			// Nothing slugs to this, so no print can match; still report
			// the miss per requested name
			if _, ok := missedNames[req.Name]; !ok {
				missedNames[req.Name] = struct{}{}
				resolution.NotFound = append(resolution.NotFound, req.Name)
				logger.Warn("no print matches requested name", zap.String("name", req.Name))
			}
			continue
		}
		// Duplicate seed names resolve once; the expansion below is
		// idempotent regardless
		if _, ok := seenNames[slug]; ok {
			continue
		}
		seenNames[slug] = struct{}{}

		seed, err := r.bestMatch(ctx, req, opts)
		if err != nil {
			return nil, err
		}
		if seed == nil {
			if _, ok := missedNames[slug]; !ok {
				missedNames[slug] = struct{}{}
				resolution.NotFound = append(resolution.NotFound, req.Name)
				logger.Warn("no print matches requested name", zap.String("name", req.Name))
			}
			continue
		}

		if err := r.expand(ctx, seed.ID, visited, resolution); err != nil {
			return nil, err
		}
	}

	return resolution, nil
}

// bestMatch resolves one request to a candidate print by scored heuristic:
// exact case-insensitive match beats prefix match beats substring
// containment. Ties break by preferred set, preferred language, most recent
// release, then lexicographic print id so resolution is never a product of
// incidental iteration order.
func (r *Resolver) bestMatch(ctx context.Context, req domain.Request, opts domain.ResolveOptions) (*schema.Print, error) {
	candidates, err := r.index.CandidatesByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	slug := domain.Slugify(req.Name)
	preferredSet := strings.ToLower(req.SetCode)
	if preferredSet == "" {
		preferredSet = strings.ToLower(opts.PreferredSet)
	}
	preferredLang := strings.ToLower(opts.PreferredLang)

	var best *schema.Print
	bestScore := scoreNone
	for _, candidate := range candidates {
		score := matchScore(candidate.NameSlug, slug)
		if score == scoreNone {
			continue
		}

		if best == nil || score > bestScore ||
			(score == bestScore && preferCandidate(candidate, best, preferredSet, preferredLang)) {
			best = candidate
			bestScore = score
		}
	}

	return best, nil
}

func matchScore(candidateSlug, requestSlug string) int {
	switch {
	case candidateSlug == requestSlug:
		return scoreExact
	case strings.HasPrefix(candidateSlug, requestSlug):
		return scorePrefix
	case strings.Contains(candidateSlug, requestSlug):
		return scoreSubstring
	default:
		return scoreNone
	}
}

// preferCandidate reports whether candidate beats the incumbent at equal
// score: preferred set, then preferred language, then most recent release,
// then lexicographic print id
func preferCandidate(candidate, incumbent *schema.Print, preferredSet, preferredLang string) bool {
	if preferredSet != "" {
		cSet := strings.ToLower(candidate.SetCode) == preferredSet
		iSet := strings.ToLower(incumbent.SetCode) == preferredSet
		if cSet != iSet {
			return cSet
		}
	}
	if preferredLang != "" {
		cLang := strings.ToLower(candidate.Lang) == preferredLang
		iLang := strings.ToLower(incumbent.Lang) == preferredLang
		if cLang != iLang {
			return cLang
		}
	}
	if !candidate.ReleasedAt.Equal(incumbent.ReleasedAt) {
		return candidate.ReleasedAt.After(incumbent.ReleasedAt)
	}
	return candidate.ID < incumbent.ID
}

// expand walks relationship edges breadth-first from the seed. The visited
// set guarantees termination even on a cyclic edge graph and keeps every
// print in the output exactly once. Edges pointing at prints absent from the
// index are dropped with a warning.
func (r *Resolver) expand(ctx context.Context, seedID string, visited map[string]struct{}, resolution *domain.Resolution) error {
	queue := []string{seedID}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := queue[0]
		queue = queue[1:]

		if _, ok := visited[id]; ok {
			continue
		}

		print, err := r.index.PrintsByIDs(ctx, []string{id})
		if err != nil {
			return err
		}
		if len(print) == 0 {
			logger.Warn("relationship edge points at unknown print", zap.String("print_id", id))
			continue
		}

		visited[id] = struct{}{}
		resolution.PrintIDs = append(resolution.PrintIDs, id)

		edges, err := r.index.RelationshipsBySourceIDs(ctx, []string{id})
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if _, ok := visited[edge.RelatedPrintID]; ok {
				continue
			}
			queue = append(queue, edge.RelatedPrintID)
		}
	}

	return nil
}
