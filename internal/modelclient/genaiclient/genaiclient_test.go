package genaiclient

import (
	"strings"
	"testing"

	"github.com/insightqueue/insightqueue/internal/modelclient"
)

func TestCodeFenceDetectsPythonBlock(t *testing.T) {
	text := "Here is the code:\n```python\nimport pandas\nprint(1)\n```\nExplanation follows."
	m := codeFence.FindStringSubmatch(text)
	if m == nil {
		t.Fatal("expected code fence to match")
	}
	if m[1] != "import pandas\nprint(1)\n" {
		t.Fatalf("captured code = %q", m[1])
	}
}

func TestCodeFenceNoMatchOnPlainAnswer(t *testing.T) {
	text := "The median price is 112.48."
	if codeFence.FindStringSubmatch(text) != nil {
		t.Fatal("expected no code fence match on a plain answer")
	}
}

func TestRenderConversationIncludesAllRoles(t *testing.T) {
	out := renderConversation([]modelclient.Message{
		{Role: "user", Text: "what is the median price?"},
		{Role: "observation", Text: "execution failed: NameError"},
	})
	if !strings.Contains(out, "USER:") || !strings.Contains(out, "OBSERVATION:") {
		t.Fatalf("rendered conversation missing expected role headers: %q", out)
	}
}
