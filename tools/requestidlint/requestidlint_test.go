package requestidlint_test

import (
	"testing"

	"github.com/insightqueue/insightqueue/tools/requestidlint"
	"golang.org/x/tools/go/analysis/analysistest"
)

func TestAnalyzer(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), requestidlint.Analyzer, "internal/jobapi/good", "internal/jobapi/bad")
}
