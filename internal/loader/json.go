package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/insightqueue/insightqueue/internal/corerr"
)

// loadJSON tries, in order: top-level array of objects; a top-level object
// wrapping exactly one array-valued field; newline-delimited objects.
func loadJSON(raw []byte, headOnly int) (Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Frame{}, nil
	}

	switch trimmed[0] {
	case '[':
		var rows []map[string]any
		if err := json.Unmarshal(trimmed, &rows); err == nil {
			return framesFromObjects(rows, headOnly), nil
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			if arr, ok := soleArrayField(obj); ok {
				var rows []map[string]any
				if err := json.Unmarshal(arr, &rows); err == nil {
					return framesFromObjects(rows, headOnly), nil
				}
			}
		}
	}

	if frame, ok := tryNDJSON(trimmed, headOnly); ok {
		return frame, nil
	}

	return Frame{}, corerr.New(corerr.MalformedJson, "input matched none of array-of-objects, object-wrapping-array, or newline-delimited-objects")
}

func soleArrayField(obj map[string]json.RawMessage) (json.RawMessage, bool) {
	var found json.RawMessage
	count := 0
	for _, v := range obj {
		t := bytes.TrimSpace(v)
		if len(t) > 0 && t[0] == '[' {
			found = v
			count++
		}
	}
	if count == 1 {
		return found, true
	}
	return nil, false
}

func tryNDJSON(raw []byte, headOnly int) (Frame, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var rows []map[string]any
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			return Frame{}, false
		}
		rows = append(rows, obj)
	}
	if len(rows) == 0 {
		return Frame{}, false
	}
	return framesFromObjects(rows, headOnly), true
}

func framesFromObjects(objects []map[string]any, headOnly int) Frame {
	var columns []string
	seen := map[string]bool{}
	for _, obj := range objects {
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}

	limit := len(objects)
	if headOnly > 0 && headOnly < limit {
		limit = headOnly
	}

	rows := make([][]string, 0, limit)
	for i := 0; i < limit; i++ {
		obj := objects[i]
		row := make([]string, len(columns))
		for c, col := range columns {
			v, ok := obj[col]
			if !ok || v == nil {
				row[c] = NullSentinel
				continue
			}
			row[c] = stringifyJSONValue(v)
		}
		rows = append(rows, row)
	}

	return Frame{
		Columns:     columns,
		ColumnTypes: inferColumnTypes(rows, len(columns)),
		Rows:        rows,
	}
}

func stringifyJSONValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		return fmt.Sprintf("%v", t)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
