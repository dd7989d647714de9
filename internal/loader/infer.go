package loader

import (
	"strconv"
	"strings"
	"time"
)

// inferColumnTypes assigns each column the type that every non-null,
// non-empty sampled cell shares (integer, real, date, boolean or text). A
// column whose cells disagree on type, even integer against real, or that
// has no such cells, is text.
func inferColumnTypes(rows [][]string, numCols int) []ColumnType {
	types := make([]ColumnType, numCols)
	for col := 0; col < numCols; col++ {
		counts := map[ColumnType]int{}
		seen := 0
		for _, row := range rows {
			if col >= len(row) {
				continue
			}
			v := row[col]
			if v == NullSentinel || v == "" {
				continue
			}
			counts[cellType(v)]++
			seen++
		}
		types[col] = dominantType(counts, seen)
	}
	return types
}

func dominantType(counts map[ColumnType]int, total int) ColumnType {
	if total == 0 {
		return TypeText
	}
	order := []ColumnType{TypeInteger, TypeReal, TypeDate, TypeBoolean, TypeText}
	for _, t := range order {
		if counts[t] == total {
			return t
		}
	}
	return TypeText
}

func cellType(v string) ColumnType {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return TypeReal
	}
	if isBoolLiteral(v) {
		return TypeBoolean
	}
	if isDateLiteral(v) {
		return TypeDate
	}
	return TypeText
}

func isBoolLiteral(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false":
		return true
	default:
		return false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	time.RFC3339,
}

func isDateLiteral(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}
