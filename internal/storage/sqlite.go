package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database holding unified_vehicle_listings.
// Analyses only read through it; Upsert exists for seeding.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database file at path and runs pending migrations.
// Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// OpenReadOnly opens an existing database file for queries only. It never
// creates the file, changes its journal mode or applies migrations, and it
// fails when the listings table is missing.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDatabase, path)
		}
		return nil, fmt.Errorf("opening database: %w", err)
	}

	dsn := "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", ListingTable).Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if n == 0 {
		db.Close()
		return nil, fmt.Errorf("%w: %s has no %s table", ErrNoDatabase, path, ListingTable)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationEntries()
	if err != nil {
		return err
	}

	for _, name := range entries {
		version, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// migrationEntries lists embedded .sql files in ascending filename order.
func migrationEntries() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// SchemaDDL returns the concatenated DDL of every embedded migration.
func SchemaDDL() (string, error) {
	entries, err := migrationEntries()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, name := range entries {
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return "", fmt.Errorf("reading migration %s: %w", name, err)
		}
		fmt.Fprintf(&b, "-- %s\n%s\n", name, content)
	}
	return b.String(), nil
}

// --- Listings ---

// Upsert inserts a listing, replacing an existing row with the same VIN unless
// the stored row came from a higher-priority source. It reports whether the
// row was written.
func (s *Store) Upsert(ctx context.Context, l Listing) (bool, error) {
	if l.VIN == "" || l.Source == "" || l.RawJSON == "" {
		return false, fmt.Errorf("%w: vin, source and raw_json are required", ErrInvalidListing)
	}
	values, err := l.values()
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, "SELECT source FROM "+ListingTable+" WHERE vin = ?", l.VIN).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("checking existing vin %s: %w", l.VIN, err)
	case SourcePriority(existing) > SourcePriority(l.Source):
		return false, nil
	}

	args := make([]any, len(ListingColumns))
	for i, c := range ListingColumns {
		args[i] = values[c]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ListingColumns)), ",")
	query := "INSERT OR REPLACE INTO " + ListingTable + " (" + strings.Join(ListingColumns, ",") + ") VALUES (" + placeholders + ")"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("writing vin %s: %w", l.VIN, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing vin %s: %w", l.VIN, err)
	}
	return true, nil
}

// GetListing returns the listing stored under vin. Only the dedicated Listing
// fields are populated.
func (s *Store) GetListing(ctx context.Context, vin string) (Listing, error) {
	var l Listing
	err := s.db.QueryRowContext(ctx, `
		SELECT vin, listing_id, heading, source, data_source, price, mileage, msrp, year, make, model, trim,
			body_style, drivetrain, fuel_type, transmission, inventory_type, is_used, seller_type,
			dealer_name, dealer_state, data_fetched_at, raw_json
		FROM `+ListingTable+` WHERE vin = ?`, vin,
	).Scan(&l.VIN, &l.ListingID, &l.Heading, &l.Source, &l.DataSource, &l.Price, &l.Mileage, &l.MSRP,
		&l.Year, &l.Make, &l.Model, &l.Trim, &l.BodyStyle, &l.Drivetrain, &l.FuelType, &l.Transmission,
		&l.InventoryType, &l.IsUsed, &l.SellerType, &l.DealerName, &l.DealerState, &l.DataFetchedAt, &l.RawJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, ErrNotFound
	}
	if err != nil {
		return Listing{}, err
	}
	return l, nil
}

// LoadSample returns make, model, year, trim, price and mileage for every row
// matching the pinned dimensions of f. Predicates run inside SQLite so only
// matching rows are materialized.
func (s *Store) LoadSample(ctx context.Context, f SampleFilter) ([]SampleRow, error) {
	var (
		where []string
		args  []any
	)
	if f.Make != nil {
		where = append(where, "make = ?")
		args = append(args, *f.Make)
	}
	if f.Model != nil {
		where = append(where, "model = ?")
		args = append(args, *f.Model)
	}
	if f.Year != nil {
		where = append(where, "year = ?")
		args = append(args, *f.Year)
	}
	if f.Trim != nil {
		where = append(where, "trim = ?")
		args = append(args, *f.Trim)
	}

	query := "SELECT make, model, year, trim, price, mileage FROM " + ListingTable
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sample: %w", err)
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		var r SampleRow
		if err := rows.Scan(&r.Make, &r.Model, &r.Year, &r.Trim, &r.Price, &r.Mileage); err != nil {
			return nil, fmt.Errorf("scanning sample row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of listings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+ListingTable).Scan(&n)
	return n, err
}

// Stats summarizes the table by source and inventory type.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		BySource:        make(map[string]int),
		ByInventoryType: make(map[string]int),
	}

	var minYear, maxYear sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT make), MIN(year), MAX(year) FROM `+ListingTable,
	).Scan(&st.Total, &st.Makes, &minYear, &maxYear)
	if err != nil {
		return Stats{}, fmt.Errorf("summarizing listings: %w", err)
	}
	st.MinYear = int(minYear.Int64)
	st.MaxYear = int(maxYear.Int64)

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM `+ListingTable+` WHERE price IS NOT NULL AND mileage IS NOT NULL`,
	).Scan(&st.PricedWithMiles); err != nil {
		return Stats{}, fmt.Errorf("counting priced listings: %w", err)
	}

	if err := s.groupCount(ctx, "source", st.BySource); err != nil {
		return Stats{}, err
	}
	if err := s.groupCount(ctx, "inventory_type", st.ByInventoryType); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *Store) groupCount(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT COALESCE("+column+", ''), COUNT(*) FROM "+ListingTable+" GROUP BY 1")
	if err != nil {
		return fmt.Errorf("grouping by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		if key == "" {
			key = "unknown"
		}
		into[key] += n
	}
	return rows.Err()
}
