// Package schema derives a cheap, uncached description of each DataFile's
// columns from a head-only read, plus semantic hints and cross-file column
// correspondences used to help a model translate a user's phrasing into
// concrete column references.
package schema

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/insightqueue/insightqueue/internal/loader"
)

const defaultHeadRows = 5

// Column describes one inferred column, with up to 5 sampled values and any
// matched semantic hints.
type Column struct {
	Name          string
	InferredType  loader.ColumnType
	SampleValues  []string
	SemanticHints []string
}

// Schema is the per-file derived description the Orchestrator's context
// state folds into its prompt.
type Schema struct {
	File             string
	Format           string
	RowCountEstimate int
	Columns          []Column
}

// CrossFileGroup is one concept's columns across every inspected file.
type CrossFileGroup struct {
	Concept string
	Columns []string // "<file>:<column>"
}

// Inspector computes Schemas on demand; it holds no state across jobs.
type Inspector struct {
	loader   *loader.Loader
	headRows int
}

func New(l *loader.Loader, headRows int) *Inspector {
	if headRows <= 0 {
		headRows = defaultHeadRows
	}
	return &Inspector{loader: l, headRows: headRows}
}

// Inspect computes a Schema for one file.
func (i *Inspector) Inspect(file loader.DataFile, path string) (Schema, error) {
	frame, err := i.loader.LoadHead(path, i.headRows)
	if err != nil {
		return Schema{}, err
	}

	columns := make([]Column, len(frame.Columns))
	for c, name := range frame.Columns {
		var samples []string
		for r := 0; r < len(frame.Rows) && len(samples) < 5; r++ {
			v := frame.Rows[r][c]
			if v != loader.NullSentinel {
				samples = append(samples, v)
			}
		}
		columns[c] = Column{
			Name:          name,
			InferredType:  frame.ColumnTypes[c],
			SampleValues:  samples,
			SemanticHints: semanticHintsFor(name),
		}
	}

	return Schema{
		File:             file.Name,
		Format:           file.Format,
		RowCountEstimate: len(frame.Rows),
		Columns:          columns,
	}, nil
}

// InspectAll computes Schemas for every DataFile in dataDir.
func (i *Inspector) InspectAll(dataDir string) ([]Schema, error) {
	files, err := loader.ListDataFiles(dataDir)
	if err != nil {
		return nil, err
	}
	schemas := make([]Schema, 0, len(files))
	for _, f := range files {
		s, err := i.Inspect(f, filepath.Join(dataDir, f.Name))
		if err != nil {
			continue // a single unreadable file does not block the others
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

var tokenSplit = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func normalizeTokens(name string) []string {
	lower := strings.ToLower(name)
	parts := tokenSplit.Split(lower, -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// semanticHintsFor returns the union of synonym sets whose normalized forms
// overlap (exactly, or within a small fuzzy edit distance) the tokens of
// name.
func semanticHintsFor(name string) []string {
	tokens := normalizeTokens(name)
	var hints []string
	seen := map[string]bool{}
	for _, concept := range concepts() {
		if conceptMatches(concept, tokens) {
			for _, syn := range lexicon[concept] {
				if !seen[syn] {
					seen[syn] = true
					hints = append(hints, syn)
				}
			}
		}
	}
	sort.Strings(hints)
	return hints
}

func conceptMatches(concept string, tokens []string) bool {
	for _, tok := range tokens {
		for _, syn := range lexicon[concept] {
			if tok == syn || fuzzy.MatchNormalizedFold(tok, syn) || fuzzy.MatchNormalizedFold(syn, tok) {
				return true
			}
		}
	}
	return false
}

// dominantConcept returns the first concept, in concepts() order, whose
// synonyms match any of name's tokens, or "" if none match.
func dominantConcept(name string) string {
	tokens := normalizeTokens(name)
	for _, concept := range concepts() {
		if conceptMatches(concept, tokens) {
			return concept
		}
	}
	return ""
}

// CrossFileCorrespondences groups columns across files by dominant concept.
// A column with no matching concept is omitted here; it still appears only
// under its own file in the normalization guide.
func CrossFileCorrespondences(schemas []Schema) []CrossFileGroup {
	byConcept := map[string][]string{}
	for _, s := range schemas {
		for _, c := range s.Columns {
			concept := dominantConcept(c.Name)
			if concept == "" {
				continue
			}
			byConcept[concept] = append(byConcept[concept], fmt.Sprintf("%s:%s", s.File, c.Name))
		}
	}

	groups := make([]CrossFileGroup, 0, len(byConcept))
	for _, concept := range concepts() {
		cols, ok := byConcept[concept]
		if !ok {
			continue
		}
		groups = append(groups, CrossFileGroup{Concept: concept, Columns: cols})
	}
	return groups
}

// NormalizationGuide renders a textual description of every schema and
// its cross-file groupings, formatted for inclusion in a model prompt.
func NormalizationGuide(schemas []Schema) string {
	var sb strings.Builder
	for _, s := range schemas {
		sb.WriteString(fmt.Sprintf("File %s (%s, ~%d rows):\n", s.File, s.Format, s.RowCountEstimate))
		for _, c := range s.Columns {
			sb.WriteString(fmt.Sprintf("  - %s (%s)", c.Name, c.InferredType))
			if len(c.SemanticHints) > 0 {
				sb.WriteString(" hints: " + strings.Join(c.SemanticHints, ", "))
			}
			sb.WriteString("\n")
		}
	}

	if len(schemas) >= 2 {
		groups := CrossFileCorrespondences(schemas)
		if len(groups) > 0 {
			sb.WriteString("\nCross-file column groupings:\n")
			for _, g := range groups {
				sb.WriteString(fmt.Sprintf("  %s: %s\n", g.Concept, strings.Join(g.Columns, ", ")))
			}
		}
	}

	return sb.String()
}
