package loader

import (
	"github.com/xuri/excelize/v2"

	"github.com/insightqueue/insightqueue/internal/corerr"
)

func loadExcel(path string, headOnly int) (Frame, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Frame{}, corerr.Wrap(corerr.MalformedExcel, "open workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Frame{}, corerr.New(corerr.MalformedExcel, "workbook has no worksheets")
	}

	all, err := f.GetRows(sheets[0])
	if err != nil {
		return Frame{}, corerr.Wrap(corerr.MalformedExcel, "read worksheet rows", err)
	}

	// Trim trailing blank rows.
	for len(all) > 0 && rowIsBlank(all[len(all)-1]) {
		all = all[:len(all)-1]
	}

	headerIdx := 0
	for headerIdx < len(all) && rowIsBlank(all[headerIdx]) {
		headerIdx++
	}
	if headerIdx >= len(all) {
		return Frame{}, nil
	}
	header := all[headerIdx]
	data := all[headerIdx+1:]

	limit := len(data)
	if headOnly > 0 && headOnly < limit {
		limit = headOnly
	}

	rows := make([][]string, 0, limit)
	for i := 0; i < limit; i++ {
		rec := data[i]
		row := make([]string, len(header))
		for c := range header {
			if c < len(rec) && rec[c] != "" {
				row[c] = rec[c]
			} else {
				row[c] = NullSentinel
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

func rowIsBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
