package index_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/index"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/store"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

func newTestIndex(t *testing.T, cfg index.Config) (*index.CardIndex, store.Store, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	st := store.NewSQLiteStore(db)
	require.NoError(t, st.Migrate(context.Background()))

	return index.New(st, cfg), st, db
}

func seedPrint(t *testing.T, st store.Store, id, name, set string) *schema.Print {
	t.Helper()

	p := &schema.Print{
		ID:              id,
		Name:            name,
		NameSlug:        domain.Slugify(name),
		SetCode:         set,
		CollectorNumber: "1",
		Lang:            "en",
		ReleasedAt:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		ImageURL:        "https://img.example.com/" + id + ".jpg",
	}
	require.NoError(t, st.UpsertPrints(context.Background(), []*schema.Print{p}))
	return p
}

func TestCardIndex_Query_CachesResults(t *testing.T) {
	idx, st, db := newTestIndex(t, index.Config{CacheSize: 8, CacheTTL: time.Hour})
	ctx := context.Background()

	p := seedPrint(t, st, "11111111-1111-4111-8111-111111111111", "Lightning Bolt", "m10")
	require.NoError(t, st.RebuildSearchIndex(ctx))

	filter := domain.QueryFilter{SetCode: "m10"}
	first, err := idx.Query(ctx, filter)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, p.ID, first[0].ID)

	// Mutate the table underneath; the cached result must still be served
	require.NoError(t, db.Exec("DELETE FROM prints").Error)

	cached, err := idx.Query(ctx, filter)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, p.ID, cached[0].ID)
}

func TestCardIndex_Query_CacheHitsAreIsolated(t *testing.T) {
	idx, st, _ := newTestIndex(t, index.Config{CacheSize: 8, CacheTTL: time.Hour})
	ctx := context.Background()

	a := seedPrint(t, st, "11111111-1111-4111-8111-111111111111", "Opt", "xln")
	b := seedPrint(t, st, "22222222-2222-4222-8222-222222222222", "Shock", "xln")

	filter := domain.QueryFilter{SetCode: "xln"}
	first, err := idx.Query(ctx, filter)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// A caller reordering its result must not leak into later hits on
	// the same entry
	first[0], first[1] = first[1], first[0]

	again, err := idx.Query(ctx, filter)
	require.NoError(t, err)
	require.Len(t, again, 2)
	gotIDs := []string{again[0].ID, again[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, gotIDs)
	assert.NotEqual(t, first[0].ID, again[0].ID)
}

func TestCardIndex_Query_EquivalentFiltersShareEntry(t *testing.T) {
	idx, st, db := newTestIndex(t, index.Config{CacheSize: 8, CacheTTL: time.Hour})
	ctx := context.Background()

	seedPrint(t, st, "11111111-1111-4111-8111-111111111111", "Serra Angel", "dom")
	require.NoError(t, st.RebuildSearchIndex(ctx))

	_, err := idx.Query(ctx, domain.QueryFilter{SetCode: "dom", Languages: []string{"en", "ja"}})
	require.NoError(t, err)

	require.NoError(t, db.Exec("DELETE FROM prints").Error)

	// Same filter with reordered slices hits the same cache entry
	cached, err := idx.Query(ctx, domain.QueryFilter{SetCode: "dom", Languages: []string{"ja", "en"}})
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestCardIndex_Query_TTLExpiry(t *testing.T) {
	idx, st, db := newTestIndex(t, index.Config{CacheSize: 8, CacheTTL: 20 * time.Millisecond})
	ctx := context.Background()

	seedPrint(t, st, "11111111-1111-4111-8111-111111111111", "Opt", "xln")
	require.NoError(t, st.RebuildSearchIndex(ctx))

	filter := domain.QueryFilter{SetCode: "xln"}
	_, err := idx.Query(ctx, filter)
	require.NoError(t, err)

	require.NoError(t, db.Exec("DELETE FROM prints").Error)
	time.Sleep(50 * time.Millisecond)

	// Entry expired, so the query sees the mutated table
	fresh, err := idx.Query(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestCardIndex_CandidatesByName_BypassesCache(t *testing.T) {
	idx, st, db := newTestIndex(t, index.Config{CacheSize: 8, CacheTTL: time.Hour})
	ctx := context.Background()

	seedPrint(t, st, "11111111-1111-4111-8111-111111111111", "Goblin Guide", "zen")

	candidates, err := idx.CandidatesByName(ctx, "Goblin Guide")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	require.NoError(t, db.Exec("DELETE FROM prints").Error)

	candidates, err = idx.CandidatesByName(ctx, "Goblin Guide")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCardIndex_PrintsByIDs(t *testing.T) {
	idx, st, _ := newTestIndex(t, index.Config{})
	ctx := context.Background()

	a := seedPrint(t, st, "11111111-1111-4111-8111-111111111111", "Opt", "xln")
	b := seedPrint(t, st, "22222222-2222-4222-8222-222222222222", "Shock", "xln")

	prints, err := idx.PrintsByIDs(ctx, []string{b.ID, a.ID, "99999999-9999-4999-8999-999999999999"})
	require.NoError(t, err)
	assert.Len(t, prints, 2)

	prints, err = idx.PrintsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, prints)
}

func TestCardIndex_Verify(t *testing.T) {
	idx, _, _ := newTestIndex(t, index.Config{})
	assert.NoError(t, idx.Verify(context.Background()))
}
