package loader

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/insightqueue/insightqueue/internal/corerr"
)

func loadDelimited(r io.Reader, sep rune, headOnly int, malformedKind corerr.Kind) (Frame, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return Frame{}, nil
	}
	if err != nil {
		return Frame{}, corerr.Wrap(malformedKind, "read header row", err)
	}

	var rows [][]string
	for {
		if headOnly > 0 && len(rows) >= headOnly {
			break
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Frame{}, corerr.Wrap(malformedKind, "read data row", err)
		}
		row := make([]string, len(header))
		for i := range header {
			if i < len(rec) {
				v := rec[i]
				if v == "" {
					row[i] = NullSentinel
				} else {
					row[i] = v
				}
			} else {
				row[i] = NullSentinel
			}
		}
		rows = append(rows, row)
	}

	return Frame{
		Columns:     header,
		ColumnTypes: inferColumnTypes(rows, len(header)),
		Rows:        rows,
	}, nil
}

// detectDelimiter scores candidate delimiters over the first 20 lines of
// text, picking whichever yields the most consistent per-line field count.
func detectDelimiter(text string) (rune, bool) {
	candidates := []rune{',', '\t', '|', ';'}
	lines := strings.Split(text, "\n")
	if len(lines) > 20 {
		lines = lines[:20]
	}

	bestDelim := rune(0)
	bestScore := 0
	for _, d := range candidates {
		counts := map[int]int{}
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			n := strings.Count(line, string(d)) + 1
			counts[n]++
		}
		// score = size of the largest consistent-count bucket, requiring
		// more than one field (a delimiter that never appears scores 0).
		for n, c := range counts {
			if n <= 1 {
				continue
			}
			if c > bestScore {
				bestScore = c
				bestDelim = d
			}
		}
	}
	return bestDelim, bestScore > 0
}
