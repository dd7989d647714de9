package inflation

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func seedTable(years map[int]float64) Table {
	rows := map[int]map[string]float64{}
	for y, pct := range years {
		rows[y] = map[string]float64{"Jan": pct}
	}
	return Table{FetchedAt: time.Now().UTC(), Rows: rows}
}

func TestAnnualRateMeanOfMonths(t *testing.T) {
	table := Table{Rows: map[int]map[string]float64{
		2024: {"Jan": 3.0, "Feb": 5.0},
	}}
	rate, ok := table.AnnualRate(2024)
	if !ok || math.Abs(rate-4.0) > 1e-9 {
		t.Fatalf("rate = %v, ok=%v", rate, ok)
	}
}

func TestAnnualRateUndefinedForMissingYear(t *testing.T) {
	table := Table{Rows: map[int]map[string]float64{}}
	_, ok := table.AnnualRate(1999)
	if ok {
		t.Fatal("expected ok=false for a year with no data")
	}
}

func TestCumulativeCompounds(t *testing.T) {
	table := Table{Rows: map[int]map[string]float64{
		2019: {"Jan": 10},
		2020: {"Jan": 10},
	}}
	got := table.Cumulative(2019, 2021, 0)
	want := 1.1*1.1 - 1
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("cumulative = %v, want %v", got, want)
	}
}

func TestCumulativeUsesAssumedRateForMissingYears(t *testing.T) {
	table := Table{Rows: map[int]map[string]float64{}}
	got := table.Cumulative(2020, 2022, 3.0)
	want := 1.03*1.03 - 1
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("cumulative = %v, want %v", got, want)
	}
}

func TestPersistAndLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inflation.json")
	cache := New(path)
	table := seedTable(map[int]float64{2019: 1.8, 2020: 1.2})
	if err := cache.persist(table); err != nil {
		t.Fatal(err)
	}
	loaded, err := cache.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Rows) != 2 {
		t.Fatalf("loaded rows = %d, want 2", len(loaded.Rows))
	}
}

func TestLoadMissingFileReturnsEmptyTable(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "absent.json"))
	table, err := cache.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Rows) != 0 {
		t.Fatalf("expected empty table, got %+v", table)
	}
}

func TestMergeNonShrinkingPreservesOldYears(t *testing.T) {
	existing := seedTable(map[int]float64{2019: 1.0, 2020: 2.0})
	fresh := seedTable(map[int]float64{2020: 2.5, 2021: 3.0})
	merged := mergeNonShrinking(existing, fresh)
	if len(merged.Rows) != 3 {
		t.Fatalf("merged years = %d, want 3", len(merged.Rows))
	}
	if merged.Rows[2020]["Jan"] != 2.5 {
		t.Fatalf("expected fresh value to overwrite, got %v", merged.Rows[2020]["Jan"])
	}
}

func TestRefreshFallsBackToCacheOnFetchFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inflation.json")
	cache := New(path)
	existing := seedTable(map[int]float64{2019: 1.0})
	if err := cache.persist(existing); err != nil {
		t.Fatal(err)
	}
	// force the fetched_at far enough in the past to trigger a refresh
	existing.FetchedAt = time.Now().Add(-60 * 24 * time.Hour)
	if err := cache.persist(existing); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.URL, time.Second)
	mgr := NewManager(cache, fetcher, 30*24*time.Hour, zap.NewNop())

	result, err := mgr.Refresh(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Stale {
		t.Fatal("expected result to be marked stale")
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected the previously cached year to survive, got %+v", result.Rows)
	}
}

func TestFetchParsesYearTables(t *testing.T) {
	html := `<html><body>
		<table class="inflation-year" data-year="2024">
			<tr><td data-month="Jan">3.1</td><td data-month="Feb">3.2</td></tr>
		</table>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.URL, time.Second)
	table, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if table.Rows[2024]["Jan"] != 3.1 {
		t.Fatalf("parsed Jan = %v, want 3.1", table.Rows[2024]["Jan"])
	}
}
