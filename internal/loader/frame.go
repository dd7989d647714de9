// Package loader produces a unified, content-aware in-memory Frame from a
// tabular file on disk, dispatching to a format-specific strategy by
// extension and sniffed content.
package loader

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultExcludeGlobs skip dotfiles and common non-data directories a data
// drop might accumulate (editor swap files, OS metadata) when walking the
// data directory recursively.
var defaultExcludeGlobs = []string{"**/.*", "**/.*/**"}

// NullSentinel is the single value used for missing/null cells across every
// format-specific strategy, so no format-specific residue leaks into a
// Frame.
const NullSentinel = "\x00NULL\x00"

// ColumnType is the inferred type of a Frame column.
type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeText    ColumnType = "text"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
)

// Frame is the unified in-memory table every loader strategy produces.
// Rows are row-major: each entry in Rows has one string per column, in the
// same order as Columns.
type Frame struct {
	Columns     []string
	ColumnTypes []ColumnType
	Rows        [][]string
}

// DataFile describes one entry in the data directory.
type DataFile struct {
	Name   string
	Size   int64
	MTime  time.Time
	Format string
}

// ListDataFiles walks the data directory recursively, deriving Format from
// each file's extension. Unrecognized extensions and dotfiles/dot-directories
// are skipped rather than erroring, since the directory may hold incidental
// non-data files. Name is the path relative to dir, using forward slashes.
func ListDataFiles(dir string) ([]DataFile, error) {
	var files []DataFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		format, ok := formatFromExt(d.Name())
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, DataFile{
			Name:   rel,
			Size:   info.Size(),
			MTime:  info.ModTime(),
			Format: format,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func excluded(rel string) bool {
	for _, glob := range defaultExcludeGlobs {
		if ok, _ := doublestar.Match(glob, rel); ok {
			return true
		}
	}
	return false
}

func formatFromExt(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "csv", true
	case ".tsv":
		return "tsv", true
	case ".json":
		return "json", true
	case ".xlsx":
		return "xlsx", true
	case ".xls":
		return "xls", true
	case ".txt":
		return "txt", true
	default:
		return "", false
	}
}
