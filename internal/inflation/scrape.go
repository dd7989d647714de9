package inflation

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/insightqueue/insightqueue/internal/corerr"
)

var monthAbbrevs = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Fetcher retrieves and parses the reference source's inflation table.
// See Fetch for the markup it reads; cells whose data-month is not a
// three-letter month abbreviation (an annual-average column, for example)
// are ignored.
type Fetcher struct {
	HTTPClient *http.Client
	SourceURL  string
}

func NewFetcher(sourceURL string, timeout time.Duration) *Fetcher {
	return &Fetcher{HTTPClient: &http.Client{Timeout: timeout}, SourceURL: sourceURL}
}

// Fetch downloads and parses the source into a Table. The expected markup
// is one `table.inflation-year` per year, with a `data-year` attribute on
// the table element and `<td>` cells labeled by a `data-month` attribute
// matching a three-letter abbreviation.
func (f *Fetcher) Fetch(ctx context.Context) (Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.SourceURL, nil)
	if err != nil {
		return Table{}, corerr.Wrap(corerr.InflationRefreshFail, "build fetch request", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return Table{}, corerr.Wrap(corerr.InflationRefreshFail, "fetch reference source", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Table{}, corerr.New(corerr.InflationRefreshFail, "reference source returned "+resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Table{}, corerr.Wrap(corerr.InflationRefreshFail, "parse reference source html", err)
	}

	rows := map[int]map[string]float64{}
	doc.Find("table.inflation-year").Each(func(_ int, table *goquery.Selection) {
		yearAttr, ok := table.Attr("data-year")
		if !ok {
			return
		}
		year, err := strconv.Atoi(strings.TrimSpace(yearAttr))
		if err != nil {
			return
		}

		months := map[string]float64{}
		table.Find("td[data-month]").Each(func(_ int, cell *goquery.Selection) {
			abbrev, _ := cell.Attr("data-month")
			if !isMonthAbbrev(abbrev) {
				return
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell.Text()), 64)
			if err != nil {
				return
			}
			months[abbrev] = v
		})
		if len(months) > 0 {
			rows[year] = months
		}
	})

	if len(rows) == 0 {
		return Table{}, corerr.New(corerr.InflationRefreshFail, "reference source schema did not match any expected table")
	}

	return Table{
		FetchedAt:        time.Now().UTC(),
		SourceIdentifier: f.SourceURL,
		Rows:             rows,
	}, nil
}

func isMonthAbbrev(s string) bool {
	for _, m := range monthAbbrevs {
		if m == s {
			return true
		}
	}
	return false
}
