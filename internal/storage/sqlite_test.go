package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err, "Open(:memory:)")
	t.Cleanup(func() { s.Close() })
	return s
}

func testListing(vin, source string) Listing {
	return Listing{
		VIN:     vin,
		Source:  source,
		Make:    Ptr("Ram"),
		Model:   Ptr("1500"),
		Year:    Ptr(int64(2019)),
		Trim:    Ptr("Limited"),
		Price:   Ptr(int64(32000)),
		Mileage: Ptr(int64(61000)),
		RawJSON: `{"vin":"` + vin + `"}`,
	}
}

// TestMigrationsIdempotent runs Open twice on the same database file and verifies
// the migration is not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	path := t.TempDir() + "/listings.db"

	s1, err := Open(path)
	require.NoError(t, err)
	v1, err := s1.AppliedMigrations()
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.NotEmpty(t, v2)
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_unified_make_model",
		"idx_unified_year",
		"idx_unified_price",
		"idx_unified_mileage",
		"idx_unified_inventory_type",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		require.NoError(t, err, idx)
		assert.Equal(t, 1, count, "index %q not found", idx)
	}
}

func TestSchemaColumnsMatchListingColumns(t *testing.T) {
	s := openTestStore(t)

	rows, err := s.db.Query("SELECT name FROM pragma_table_info('" + ListingTable + "') ORDER BY cid")
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols = append(cols, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, ListingColumns, cols)
}

func TestUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := testListing("1C6SRFHT0KN000001", "autodev")
	l.Extra = map[string]any{"dealer_city": "Austin", "photo_count": 12}

	written, err := s.Upsert(ctx, l)
	require.NoError(t, err)
	assert.True(t, written)

	got, err := s.GetListing(ctx, l.VIN)
	require.NoError(t, err)
	assert.Equal(t, "autodev", got.Source)
	require.NotNil(t, got.Make)
	assert.Equal(t, "Ram", *got.Make)
	require.NotNil(t, got.Mileage)
	assert.Equal(t, int64(61000), *got.Mileage)
	assert.Nil(t, got.MSRP)

	var city string
	require.NoError(t, s.db.QueryRow("SELECT dealer_city FROM "+ListingTable+" WHERE vin = ?", l.VIN).Scan(&city))
	assert.Equal(t, "Austin", city)
}

func TestUpsert_SourcePrecedence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vin := "1C6SRFHT0KN000002"

	mc := testListing(vin, "marketcheck")
	mc.Price = Ptr(int64(30000))
	written, err := s.Upsert(ctx, mc)
	require.NoError(t, err)
	require.True(t, written)

	ad := testListing(vin, "autodev")
	ad.Price = Ptr(int64(99999))
	written, err = s.Upsert(ctx, ad)
	require.NoError(t, err)
	assert.False(t, written, "lower-priority source must not replace marketcheck")

	got, err := s.GetListing(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, "marketcheck", got.Source)
	assert.Equal(t, int64(30000), *got.Price)

	mc2 := testListing(vin, "marketcheck")
	mc2.Price = Ptr(int64(29500))
	written, err = s.Upsert(ctx, mc2)
	require.NoError(t, err)
	assert.True(t, written, "equal priority replaces")

	got, err = s.GetListing(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, int64(29500), *got.Price)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsert_Invalid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cases := map[string]Listing{
		"missing vin":    {Source: "autodev", RawJSON: "{}"},
		"missing source": {VIN: "X1", RawJSON: "{}"},
		"missing raw":    {VIN: "X1", Source: "autodev"},
		"unknown column": {VIN: "X1", Source: "autodev", RawJSON: "{}", Extra: map[string]any{"colour": "red"}},
		"extra price":    {VIN: "X1", Source: "autodev", RawJSON: "{}", Extra: map[string]any{"price": 25000}},
		"extra vin":      {VIN: "X1", Source: "autodev", RawJSON: "{}", Extra: map[string]any{"vin": "X2"}},
	}
	for name, l := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Upsert(ctx, l)
			assert.ErrorIs(t, err, ErrInvalidListing)
		})
	}
}

func TestUpsert_ExtraCannotShadowField(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := testListing("1C6SRFJT0KN000009", "autodev")
	l.Price = nil
	l.Extra = map[string]any{"price": 25000}
	_, err := s.Upsert(ctx, l)
	require.ErrorIs(t, err, ErrInvalidListing)
	assert.Contains(t, err.Error(), `"price"`)

	_, err = s.GetListing(ctx, l.VIN)
	assert.ErrorIs(t, err, ErrNotFound, "rejected listing must not be written")
}

func TestOpenReadOnly_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo", "listings.db")

	_, err := OpenReadOnly(path)
	require.ErrorIs(t, err, ErrNoDatabase)

	_, statErr := os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(statErr), "no directory is created")
}

func TestOpenReadOnly_NoListingsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := OpenReadOnly(path)
	assert.ErrorIs(t, err, ErrNoDatabase)
}

func TestOpenReadOnly_ReadsWithoutWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.db")
	rw, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = rw.Upsert(ctx, testListing("1C6SRFJT0KN000010", "marketcheck"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	n, err := ro.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := ro.GetListing(ctx, "1C6SRFJT0KN000010")
	require.NoError(t, err)
	assert.Equal(t, "marketcheck", got.Source)

	_, err = ro.Upsert(ctx, testListing("1C6SRFJT0KN000011", "autodev"))
	assert.Error(t, err, "writes fail on a read-only store")
}

func TestGetListing_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetListing(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSample_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []Listing{
		testListing("V1", "autodev"),
		testListing("V2", "autodev"),
		testListing("V3", "marketcheck"),
	}
	seed[1].Trim = Ptr("Laramie")
	seed[2].Year = Ptr(int64(2020))
	seed[2].Make = Ptr("Ford")
	seed[2].Model = Ptr("F-150")
	for _, l := range seed {
		_, err := s.Upsert(ctx, l)
		require.NoError(t, err)
	}

	all, err := s.LoadSample(ctx, SampleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ram, err := s.LoadSample(ctx, SampleFilter{Make: Ptr("Ram"), Model: Ptr("1500")})
	require.NoError(t, err)
	assert.Len(t, ram, 2)

	pinned, err := s.LoadSample(ctx, SampleFilter{Make: Ptr("Ram"), Model: Ptr("1500"), Year: Ptr(2019), Trim: Ptr("Limited")})
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	row := pinned[0]
	assert.Equal(t, "2019", *row.Year)
	assert.Equal(t, "32000", *row.Price)
	assert.Equal(t, "61000", *row.Mileage)

	none, err := s.LoadSample(ctx, SampleFilter{Year: Ptr(1999)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLoadSample_NullsAndText(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := testListing("V9", "autodev")
	l.Price = nil
	l.Trim = nil
	_, err := s.Upsert(ctx, l)
	require.NoError(t, err)

	_, err = s.db.Exec("UPDATE "+ListingTable+" SET mileage = 'n/a' WHERE vin = ?", "V9")
	require.NoError(t, err)

	rows, err := s.LoadSample(ctx, SampleFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Price)
	assert.Nil(t, rows[0].Trim)
	require.NotNil(t, rows[0].Mileage)
	assert.Equal(t, "n/a", *rows[0].Mileage)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testListing("S1", "autodev")
	a.InventoryType = Ptr("used")
	b := testListing("S2", "marketcheck")
	b.InventoryType = Ptr("used")
	b.Year = Ptr(int64(2021))
	c := testListing("S3", "marketcheck")
	c.Price = nil
	c.Make = Ptr("Ford")
	for _, l := range []Listing{a, b, c} {
		_, err := s.Upsert(ctx, l)
		require.NoError(t, err)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Makes)
	assert.Equal(t, 2019, st.MinYear)
	assert.Equal(t, 2021, st.MaxYear)
	assert.Equal(t, 2, st.PricedWithMiles)
	assert.Equal(t, map[string]int{"autodev": 1, "marketcheck": 2}, st.BySource)
	assert.Equal(t, map[string]int{"used": 2, "unknown": 1}, st.ByInventoryType)
}

func TestSchemaDDL(t *testing.T) {
	ddl, err := SchemaDDL()
	require.NoError(t, err)
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS unified_vehicle_listings")
	assert.Contains(t, ddl, "idx_unified_inventory_type")
}
