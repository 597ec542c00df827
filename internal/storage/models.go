package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidListing is returned by Upsert for records missing VIN, source or raw_json.
var ErrInvalidListing = errors.New("invalid listing")

// ErrNoDatabase is returned by OpenReadOnly when the file or its listings
// table does not exist.
var ErrNoDatabase = errors.New("no listings database")

// ListingTable is the name of the unified listings table.
const ListingTable = "unified_vehicle_listings"

// Source priorities used when two feeds report the same VIN. A record never
// replaces one whose source has a strictly higher priority.
var sourcePriority = map[string]int{
	"marketcheck": 2,
	"autodev":     1,
}

// SourcePriority returns the precedence of a feed name; unknown feeds rank 0.
func SourcePriority(source string) int {
	return sourcePriority[source]
}

// Listing is one row of unified_vehicle_listings. Nullable columns are pointers.
// Columns without a dedicated field travel in Extra, keyed by column name.
type Listing struct {
	VIN           string         `json:"vin"`
	ListingID     *string        `json:"listing_id,omitempty"`
	Heading       *string        `json:"heading,omitempty"`
	Source        string         `json:"source"`
	DataSource    *string        `json:"data_source,omitempty"`
	Price         *int64         `json:"price,omitempty"`
	Mileage       *int64         `json:"mileage,omitempty"`
	MSRP          *int64         `json:"msrp,omitempty"`
	Year          *int64         `json:"year,omitempty"`
	Make          *string        `json:"make,omitempty"`
	Model         *string        `json:"model,omitempty"`
	Trim          *string        `json:"trim,omitempty"`
	BodyStyle     *string        `json:"body_style,omitempty"`
	Drivetrain    *string        `json:"drivetrain,omitempty"`
	FuelType      *string        `json:"fuel_type,omitempty"`
	Transmission  *string        `json:"transmission,omitempty"`
	InventoryType *string        `json:"inventory_type,omitempty"`
	IsUsed        *int64         `json:"is_used,omitempty"`
	SellerType    *string        `json:"seller_type,omitempty"`
	DealerName    *string        `json:"dealer_name,omitempty"`
	DealerState   *string        `json:"dealer_state,omitempty"`
	DataFetchedAt *string        `json:"data_fetched_at,omitempty"`
	RawJSON       string         `json:"raw_json"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// SampleRow is the six-column projection the analysis reads. Values are kept
// as raw text so callers decide how to coerce them.
type SampleRow struct {
	Make    *string
	Model   *string
	Year    *string
	Trim    *string
	Price   *string
	Mileage *string
}

// SampleFilter pins listing dimensions to exact values. Nil fields are unconstrained.
type SampleFilter struct {
	Make  *string
	Model *string
	Year  *int
	Trim  *string
}

// Stats summarizes the contents of the listings table.
type Stats struct {
	Total           int            `json:"total"`
	BySource        map[string]int `json:"by_source"`
	ByInventoryType map[string]int `json:"by_inventory_type"`
	Makes           int            `json:"makes"`
	MinYear         int            `json:"min_year"`
	MaxYear         int            `json:"max_year"`
	PricedWithMiles int            `json:"priced_with_miles"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// ListingColumns is the unified column set in table order.
var ListingColumns = []string{
	"vin", "listing_id", "heading", "source", "data_source",
	"price", "mileage", "msrp", "ref_price", "price_change_percent", "ref_price_dt", "ref_miles", "ref_miles_dt",
	"listing_created_at", "online", "data_fetched_at",
	"first_seen_at", "first_seen_at_date", "first_seen_at_source", "first_seen_at_source_date",
	"first_seen_at_mc", "first_seen_at_mc_date", "last_seen_at", "last_seen_at_date",
	"scraped_at", "scraped_at_date", "dom", "dom_180", "dom_active", "dos_active",
	"year", "make", "model", "trim", "body_style", "drivetrain", "engine", "fuel_type", "transmission",
	"doors", "seats", "exterior_color", "interior_color", "base_ext_color", "base_int_color", "model_code",
	"seller_type", "inventory_type", "availability_status", "is_used", "is_cpo", "is_certified", "in_transit",
	"stock_number", "carfax_one_owner", "carfax_clean_title",
	"dealer_name", "dealer_city", "dealer_state", "dealer_zip", "dealer_phone", "dealer_country",
	"dealer_type", "dealer_msa_code", "dealer_latitude", "dealer_longitude", "dist",
	"primary_image_url", "photo_count", "vdp_url", "carfax_url",
	"build_year", "build_make", "build_model", "build_trim", "build_version", "build_body_type",
	"build_vehicle_type", "build_transmission", "build_drivetrain", "build_fuel_type", "build_engine",
	"build_doors", "build_cylinders", "build_std_seating", "build_highway_mpg", "build_city_mpg",
	"financing_options_json", "leasing_options_json", "media_json", "dealer_json", "mc_dealership_json",
	"build_json", "raw_json",
}

// values maps every column to the value bound on insert. Extra may only
// carry columns without a dedicated field.
func (l Listing) values() (map[string]any, error) {
	v := map[string]any{
		"vin":             l.VIN,
		"listing_id":      l.ListingID,
		"heading":         l.Heading,
		"source":          l.Source,
		"data_source":     l.DataSource,
		"price":           l.Price,
		"mileage":         l.Mileage,
		"msrp":            l.MSRP,
		"year":            l.Year,
		"make":            l.Make,
		"model":           l.Model,
		"trim":            l.Trim,
		"body_style":      l.BodyStyle,
		"drivetrain":      l.Drivetrain,
		"fuel_type":       l.FuelType,
		"transmission":    l.Transmission,
		"inventory_type":  l.InventoryType,
		"is_used":         l.IsUsed,
		"seller_type":     l.SellerType,
		"dealer_name":     l.DealerName,
		"dealer_state":    l.DealerState,
		"data_fetched_at": l.DataFetchedAt,
		"raw_json":        l.RawJSON,
	}
	for key, val := range l.Extra {
		if !isListingColumn(key) {
			return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidListing, key)
		}
		if _, dedicated := v[key]; dedicated {
			return nil, fmt.Errorf("%w: column %q has a dedicated field and cannot be set through Extra", ErrInvalidListing, key)
		}
		v[key] = val
	}
	return v, nil
}

func isListingColumn(name string) bool {
	for _, c := range ListingColumns {
		if c == name {
			return true
		}
	}
	return false
}
