package orchestrator

import (
	"fmt"
	"strings"

	"github.com/insightqueue/insightqueue/internal/loader"
	"github.com/insightqueue/insightqueue/internal/modelclient"
	"github.com/insightqueue/insightqueue/internal/schema"
)

// promptContext holds everything the context state assembled, folded into
// the first model message and referenced by later observation messages.
type promptContext struct {
	question        string
	primaryFile     string
	files           []loader.DataFile
	schemas         []schema.Schema
	inflationNeeded bool
	inflationBlock  string
}

// buildInitialPrompt assembles the seven-part contract: question, primary
// file hint, multi-file listing, schema summary and semantic hints,
// normalization guide (when ≥2 files), inflation summary (when needed), and
// the instruction to obtain Frames only through the Loader.
func buildInitialPrompt(pc promptContext) string {
	var sb strings.Builder

	sb.WriteString("Question: ")
	sb.WriteString(pc.question)
	sb.WriteString("\n\n")

	if pc.primaryFile != "" {
		sb.WriteString("Primary file: " + pc.primaryFile + "\n\n")
	}

	sb.WriteString("Available files:\n")
	for _, f := range pc.files {
		sb.WriteString(fmt.Sprintf("  - %s (%s, %d bytes)\n", f.Name, f.Format, f.Size))
	}
	sb.WriteString("\n")

	sb.WriteString(schema.NormalizationGuide(pc.schemas))
	sb.WriteString("\n")

	if pc.inflationNeeded && pc.inflationBlock != "" {
		sb.WriteString(pc.inflationBlock)
		sb.WriteString("\n")
	}

	sb.WriteString("Instructions: obtain tabular data only through the file loader " +
		"(load_head/load); do not write ad-hoc parsers. Respond with either a " +
		"fenced python code block that computes the answer, or, once you have a " +
		"final answer, plain text containing it.\n")

	return sb.String()
}

// needsInflation reports whether the question contains one of a few
// inflation-related keywords ("inflation", "adjusted", "today's dollars",
// "real terms"); years or other timespans alone do not trigger it.
func needsInflation(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range []string{"inflation", "adjusted", "today's dollars", "real terms"} {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func observationMessage(res observationResult) modelclient.Message {
	var sb strings.Builder
	if res.err != "" {
		sb.WriteString("Execution raised an error:\n")
		sb.WriteString(res.err)
	} else {
		sb.WriteString("Execution output:\n")
		sb.WriteString(res.stdout)
		if res.finalValue != "" {
			sb.WriteString("\nFinal value: " + res.finalValue)
		}
	}
	return modelclient.Message{Role: "observation", Text: sb.String()}
}

type observationResult struct {
	stdout     string
	err        string
	finalValue string
}
