// Package inflation maintains a persisted table of historical annual and
// monthly inflation percentages, refreshed on demand from a reference
// source, and exposes compounding helpers used as reference data in model
// prompts.
package inflation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/insightqueue/insightqueue/internal/corerr"
)

// Table is the persisted reference data: a sparse, append-mostly mapping
// from year to month-abbreviation to percentage.
type Table struct {
	FetchedAt        time.Time
	SourceIdentifier string
	Rows             map[int]map[string]float64
	Stale            bool // set when a refresh fell back to the cached copy
}

// document is the on-disk JSON shape prescribed for the cache file: years
// are string keys for stability, missing months are omitted rather than
// nulled.
type document struct {
	FetchedAt time.Time                 `json:"fetched_at"`
	Data      map[string]map[string]float64 `json:"data"`
}

// Cache owns the persisted table at Path.
type Cache struct {
	Path string
}

func New(path string) *Cache {
	return &Cache{Path: path}
}

// Load reads the persisted table; an absent file yields an empty table
// rather than an error.
func (c *Cache) Load() (Table, error) {
	raw, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return Table{Rows: map[int]map[string]float64{}}, nil
	}
	if err != nil {
		return Table{}, corerr.Wrap(corerr.InflationRefreshFail, "read inflation cache", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Table{}, corerr.Wrap(corerr.InflationRefreshFail, "parse inflation cache", err)
	}

	rows := make(map[int]map[string]float64, len(doc.Data))
	for yearStr, months := range doc.Data {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			continue
		}
		rows[year] = months
	}

	return Table{FetchedAt: doc.FetchedAt, Rows: rows}, nil
}

// persist atomically replaces the cache file: write to a temp file in the
// same directory, then rename, so concurrent readers always see a
// consistent table.
func (c *Cache) persist(t Table) error {
	doc := document{FetchedAt: t.FetchedAt, Data: make(map[string]map[string]float64, len(t.Rows))}
	for year, months := range t.Rows {
		doc.Data[strconv.Itoa(year)] = months
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return corerr.Wrap(corerr.InflationRefreshFail, "marshal inflation cache", err)
	}

	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return corerr.Wrap(corerr.InflationRefreshFail, "create inflation cache directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".inflation-*.tmp")
	if err != nil {
		return corerr.Wrap(corerr.InflationRefreshFail, "create temp cache file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return corerr.Wrap(corerr.InflationRefreshFail, "write temp cache file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return corerr.Wrap(corerr.InflationRefreshFail, "close temp cache file", err)
	}
	if err := os.Rename(tmpPath, c.Path); err != nil {
		os.Remove(tmpPath)
		return corerr.Wrap(corerr.InflationRefreshFail, "rename temp cache file into place", err)
	}
	return nil
}

// mergeNonShrinking overlays fresh onto existing: new rows overwrite,
// existing years absent from fresh are preserved, so a partial or stale
// fetch never removes previously known years.
func mergeNonShrinking(existing, fresh Table) Table {
	merged := map[int]map[string]float64{}
	for year, months := range existing.Rows {
		merged[year] = months
	}
	for year, months := range fresh.Rows {
		merged[year] = months
	}
	return Table{FetchedAt: fresh.FetchedAt, SourceIdentifier: fresh.SourceIdentifier, Rows: merged}
}

func sortedYears(rows map[int]map[string]float64) []int {
	years := make([]int, 0, len(rows))
	for y := range rows {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func (t Table) String() string {
	years := sortedYears(t.Rows)
	if len(years) == 0 {
		return "inflation table: empty"
	}
	return fmt.Sprintf("inflation table: %d-%d (%d years)", years[0], years[len(years)-1], len(years))
}
