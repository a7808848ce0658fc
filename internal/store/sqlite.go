package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

// SQL statements for the SQLite FTS5 full-text layer
const (
	sqliteCreateFTS5Table = `
CREATE VIRTUAL TABLE IF NOT EXISTS print_search USING fts5(
    print_id UNINDEXED,
    name,
    oracle_text,
    tokenize='porter ascii'
)`

	sqliteClearFTS5Table = `DELETE FROM print_search`

	sqliteFillFTS5Table = `
INSERT INTO print_search (print_id, name, oracle_text)
SELECT id, name, COALESCE(oracle_text, '') FROM prints`

	sqliteFTS5Query = `SELECT print_id FROM print_search WHERE print_search MATCH ? ORDER BY rank LIMIT ?`

	sqliteFTS5Optimize = `INSERT INTO print_search (print_search) VALUES ('optimize')`
)

// deterministicOrder is the fixed ordering applied to every print query so
// identical filters always return rows in the same order
const deterministicOrder = "released_at DESC, set_code ASC, collector_number ASC, id ASC"

type sqliteStore struct {
	db *gorm.DB

	ftsOnce sync.Once
	ftsOK   bool
}

// NewSQLiteStore creates a new SQLite-backed store instance
func NewSQLiteStore(db *gorm.DB) Store {
	return &sqliteStore{db: db}
}

// wrapUnavailable maps low-level corruption/missing-schema errors onto
// domain.ErrDatabaseUnavailable so callers get the remediation hint
func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "unable to open database") {
		return fmt.Errorf("%w: %s", domain.ErrDatabaseUnavailable, msg)
	}
	return err
}

// FullTextAvailable reports whether the linked SQLite provides the fts5
// module. SQLite builds without it still serve every query through the
// substring scan path.
func (s *sqliteStore) FullTextAvailable(ctx context.Context) bool {
	s.ftsOnce.Do(func() {
		var count int64
		err := s.db.WithContext(ctx).
			Raw(`SELECT COUNT(*) FROM pragma_module_list WHERE name = 'fts5'`).
			Scan(&count).Error
		s.ftsOK = err == nil && count > 0
		if !s.ftsOK {
			logger.Warn("fts5 module not compiled into SQLite, search degrades to substring scans")
		}
	})
	return s.ftsOK
}

// Migrate creates or updates the schema, including the full-text layer
// when the SQLite build supports it
func (s *sqliteStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&schema.Print{}, &schema.CardRelationship{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	if !s.FullTextAvailable(ctx) {
		return nil
	}
	if err := db.Exec(sqliteCreateFTS5Table).Error; err != nil {
		return fmt.Errorf("failed to create full-text table: %w", err)
	}
	return nil
}

// Verify checks that the index is present and readable
func (s *sqliteStore) Verify(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&schema.Print{}).Limit(1).Count(&count).Error; err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// UpsertPrints writes a batch of prints in a single transaction
func (s *sqliteStore) UpsertPrints(ctx context.Context, prints []*schema.Print) error {
	if len(prints) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&prints).Error; err != nil {
			return fmt.Errorf("failed to upsert prints: %w", wrapUnavailable(err))
		}
		return nil
	})
}

// ReplaceRelationships drops all edges originating from the given source
// prints and inserts the new edge set in a single transaction
func (s *sqliteStore) ReplaceRelationships(ctx context.Context, sourceIDs []string, edges []*schema.CardRelationship) error {
	if len(sourceIDs) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_print_id IN ?", sourceIDs).
			Delete(&schema.CardRelationship{}).Error; err != nil {
			return fmt.Errorf("failed to clear relationships: %w", wrapUnavailable(err))
		}
		if len(edges) == 0 {
			return nil
		}
		if err := tx.Create(&edges).Error; err != nil {
			return fmt.Errorf("failed to create relationships: %w", wrapUnavailable(err))
		}
		return nil
	})
}

// RebuildSearchIndex repopulates the full-text table from the prints table
func (s *sqliteStore) RebuildSearchIndex(ctx context.Context) error {
	if !s.FullTextAvailable(ctx) {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(sqliteClearFTS5Table).Error; err != nil {
			return fmt.Errorf("failed to clear full-text table: %w", wrapUnavailable(err))
		}
		if err := tx.Exec(sqliteFillFTS5Table).Error; err != nil {
			return fmt.Errorf("failed to fill full-text table: %w", wrapUnavailable(err))
		}
		return nil
	})
}

// Optimize runs ANALYZE and compacts the full-text index after a build
func (s *sqliteStore) Optimize(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if s.FullTextAvailable(ctx) {
		if err := db.Exec(sqliteFTS5Optimize).Error; err != nil {
			return fmt.Errorf("failed to optimize full-text index: %w", wrapUnavailable(err))
		}
	}
	if err := db.Exec("ANALYZE").Error; err != nil {
		return fmt.Errorf("failed to analyze: %w", wrapUnavailable(err))
	}
	if err := db.Exec("PRAGMA optimize").Error; err != nil {
		return fmt.Errorf("failed to run pragma optimize: %w", wrapUnavailable(err))
	}
	return nil
}

// Stats reports row counts per table
func (s *sqliteStore) Stats(ctx context.Context) (domain.IndexStats, error) {
	var stats domain.IndexStats
	db := s.db.WithContext(ctx)

	if err := db.Model(&schema.Print{}).Count(&stats.Prints).Error; err != nil {
		return stats, wrapUnavailable(err)
	}
	if err := db.Model(&schema.CardRelationship{}).Count(&stats.Relationships).Error; err != nil {
		return stats, wrapUnavailable(err)
	}
	if s.FullTextAvailable(ctx) {
		if err := db.Raw("SELECT COUNT(*) FROM print_search").Scan(&stats.SearchRows).Error; err != nil {
			return stats, wrapUnavailable(err)
		}
	}

	return stats, nil
}

// GetPrintByID retrieves a single print, nil when absent
func (s *sqliteStore) GetPrintByID(ctx context.Context, id string) (*schema.Print, error) {
	var print schema.Print
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&print).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get print: %w", wrapUnavailable(err))
	}
	return &print, nil
}

// GetPrintsByIDs retrieves multiple prints by id
func (s *sqliteStore) GetPrintsByIDs(ctx context.Context, ids []string) ([]*schema.Print, error) {
	if len(ids) == 0 {
		return []*schema.Print{}, nil
	}

	var prints []*schema.Print
	err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order(deterministicOrder).
		Find(&prints).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get prints by ids: %w", wrapUnavailable(err))
	}

	return prints, nil
}

// GetRelationshipsBySourceIDs retrieves all edges originating from the given prints
func (s *sqliteStore) GetRelationshipsBySourceIDs(ctx context.Context, sourceIDs []string) ([]*schema.CardRelationship, error) {
	if len(sourceIDs) == 0 {
		return []*schema.CardRelationship{}, nil
	}

	var edges []*schema.CardRelationship
	err := s.db.WithContext(ctx).
		Where("source_print_id IN ?", sourceIDs).
		Order("source_print_id ASC, kind ASC, related_print_id ASC").
		Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", wrapUnavailable(err))
	}

	return edges, nil
}

// FindPrintsBySlug retrieves candidate prints whose name slug contains the
// given slug. The indexed name_slug column serves exact and prefix scoring;
// the containment form covers the substring tier.
func (s *sqliteStore) FindPrintsBySlug(ctx context.Context, slug string) ([]*schema.Print, error) {
	if slug == "" {
		return []*schema.Print{}, nil
	}

	var prints []*schema.Print
	err := s.db.WithContext(ctx).
		Where(`name_slug LIKE ? ESCAPE '\'`, "%"+escapeLike(slug)+"%").
		Order(deterministicOrder).
		Find(&prints).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find prints by slug: %w", wrapUnavailable(err))
	}

	return prints, nil
}

// QueryPrints runs a structured filter query in deterministic order.
// Free-text fields (name substring, oracle text) prefer the full-text index
// and fall back to a LIKE scan only when the full-text match is empty, which
// covers tokenization mismatches.
func (s *sqliteStore) QueryPrints(ctx context.Context, filter domain.QueryFilter) ([]*schema.Print, error) {
	q := s.db.WithContext(ctx).Model(&schema.Print{})

	if filter.SetCode != "" {
		q = q.Where("set_code = ?", filter.SetCode)
	}
	if len(filter.Languages) > 0 {
		q = q.Where("lang IN ?", filter.Languages)
	}
	if filter.Rarity != "" {
		q = q.Where("rarity = ?", filter.Rarity)
	}
	if filter.TypeLine != "" {
		q = q.Where(`type_line LIKE ? ESCAPE '\'`, "%"+escapeLike(filter.TypeLine)+"%")
	}
	if filter.IsToken != nil {
		q = q.Where("is_token = ?", *filter.IsToken)
	}
	if filter.IsBasicLand != nil {
		q = q.Where("is_basic_land = ?", *filter.IsBasicLand)
	}

	// Name equality uses the indexed slug; free-text goes through FTS first
	freeText := filter.OracleText
	if filter.Name != "" {
		if filter.NameExact {
			q = q.Where("name_slug = ?", domain.Slugify(filter.Name))
		} else if freeText == "" {
			freeText = filter.Name
		} else {
			freeText = filter.Name + " " + freeText
		}
	}

	if freeText != "" {
		ids, err := s.SearchPrintIDs(ctx, freeText, 0)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			q = q.Where("id IN ?", ids)
		} else {
			// Tokenization mismatch fallback: substring scan
			logger.Debug("full-text match empty, falling back to substring scan",
				zap.String("text", freeText))
			pattern := "%" + escapeLike(freeText) + "%"
			q = q.Where(`name LIKE ? ESCAPE '\' OR oracle_text LIKE ? ESCAPE '\'`, pattern, pattern)
		}
	}

	q = q.Order(deterministicOrder)

	// Color-identity subset is applied in memory, so the SQL limit can only
	// be pushed down when no subset filter is present
	if filter.Limit > 0 && len(filter.ColorIdentity) == 0 {
		q = q.Limit(filter.Limit)
	}

	var prints []*schema.Print
	if err := q.Find(&prints).Error; err != nil {
		return nil, fmt.Errorf("failed to query prints: %w", wrapUnavailable(err))
	}

	if len(filter.ColorIdentity) > 0 {
		prints = filterColorIdentitySubset(prints, filter.ColorIdentity)
		if filter.Limit > 0 && len(prints) > filter.Limit {
			prints = prints[:filter.Limit]
		}
	}

	return prints, nil
}

// SearchPrintIDs runs a full-text match over name/oracle_text. Without
// the fts5 module it returns no ids, which sends callers down the
// substring fallback in QueryPrints.
func (s *sqliteStore) SearchPrintIDs(ctx context.Context, text string, limit int) ([]string, error) {
	match := buildFTSMatch(text)
	if match == "" || !s.FullTextAvailable(ctx) {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = -1
	}

	ids := []string{}
	err := s.db.WithContext(ctx).Raw(sqliteFTS5Query, match, limit).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search prints: %w", wrapUnavailable(err))
	}

	return ids, nil
}

// buildFTSMatch quotes each term so user input can never inject FTS5 query
// syntax (AND/OR/NEAR, column filters)
func buildFTSMatch(text string) string {
	fields := strings.Fields(text)
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.ReplaceAll(field, `"`, "")
		if field == "" {
			continue
		}
		terms = append(terms, `"`+field+`"`)
	}
	return strings.Join(terms, " ")
}

// escapeLike escapes LIKE wildcards in user input
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// filterColorIdentitySubset keeps prints whose color identity is a subset of
// the allowed colors, preserving input order
func filterColorIdentitySubset(prints []*schema.Print, allowed []string) []*schema.Print {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		allowedSet[strings.ToUpper(c)] = struct{}{}
	}

	filtered := make([]*schema.Print, 0, len(prints))
	for _, p := range prints {
		subset := true
		for _, c := range p.ColorIdentity {
			if _, ok := allowedSet[strings.ToUpper(c)]; !ok {
				subset = false
				break
			}
		}
		if subset {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
