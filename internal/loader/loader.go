package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/insightqueue/insightqueue/internal/corerr"
)

// Loader exposes both modes other components need: the Schema Inspector
// wants a cheap head-only Frame, generated code wants the full Frame.
type Loader struct {
	MaxFileBytes int64
}

func New(maxFileBytes int64) *Loader {
	return &Loader{MaxFileBytes: maxFileBytes}
}

// Load returns the full Frame for path.
func (l *Loader) Load(path string) (Frame, error) {
	return l.load(path, 0)
}

// LoadHead returns a Frame truncated to at most n data rows, without
// parsing the remainder of the file when the format allows it.
func (l *Loader) LoadHead(path string, n int) (Frame, error) {
	return l.load(path, n)
}

func (l *Loader) load(path string, headOnly int) (Frame, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Frame{}, corerr.Wrap(corerr.NotFound, "stat data file", err)
	}
	if l.MaxFileBytes > 0 && info.Size() > l.MaxFileBytes {
		return Frame{}, corerr.New(corerr.FileTooLarge, "file exceeds the configured size ceiling")
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return l.loadDelimitedFile(path, ',', headOnly, corerr.MalformedCsv)
	case ".tsv":
		return l.loadDelimitedFile(path, '\t', headOnly, corerr.MalformedCsv)
	case ".json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return Frame{}, corerr.Wrap(corerr.NotFound, "read json file", err)
		}
		return loadJSON(raw, headOnly)
	case ".xlsx", ".xls":
		return loadExcel(path, headOnly)
	case ".txt":
		return l.loadTXT(path, headOnly)
	default:
		return Frame{}, corerr.New(corerr.UnsupportedFormat, "unrecognized extension "+ext)
	}
}

func (l *Loader) loadDelimitedFile(path string, sep rune, headOnly int, kind corerr.Kind) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, corerr.Wrap(corerr.NotFound, "open data file", err)
	}
	defer f.Close()
	return loadDelimited(f, sep, headOnly, kind)
}

func (l *Loader) loadTXT(path string, headOnly int) (Frame, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, corerr.Wrap(corerr.NotFound, "read txt file", err)
	}
	sep, ok := detectDelimiter(string(raw))
	if !ok {
		// No consistent delimiter: single-column text, one row per line.
		lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
		limit := len(lines)
		if headOnly > 0 && headOnly < limit {
			limit = headOnly
		}
		rows := make([][]string, 0, limit)
		for i := 0; i < limit; i++ {
			rows = append(rows, []string{lines[i]})
		}
		return Frame{
			Columns:     []string{"text"},
			ColumnTypes: []ColumnType{TypeText},
			Rows:        rows,
		}, nil
	}
	return loadDelimited(bytes.NewReader(raw), sep, headOnly, corerr.MalformedCsv)
}
