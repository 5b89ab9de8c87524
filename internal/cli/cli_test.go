package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/headline-goat/growthgoat/internal/funnel"
	"github.com/headline-goat/growthgoat/internal/snippets"
	"github.com/headline-goat/growthgoat/internal/stats"
)

// executeCommand runs the root command against an in-memory store.
func executeCommand(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append(args, "--store", "memory", "--log-level", "error", "--env-file", ""))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, buf.String())
	}
	return buf.String()
}

func TestAssignCommand(t *testing.T) {
	output := executeCommand(t, "assign", "hero-cta", "user_abc")

	if !strings.Contains(output, "BUCKET: 85.01") {
		t.Errorf("unexpected bucket:\n%s", output)
	}
	if !strings.Contains(output, "VARIANT: variant-a") {
		t.Errorf("unexpected variant:\n%s", output)
	}
}

func TestListCommand(t *testing.T) {
	output := executeCommand(t, "list")

	for _, expected := range []string{"hero-cta", "pricing-layout", "exit-discount", "signup", "landing > templates > builder > account"} {
		if !strings.Contains(output, expected) {
			t.Errorf("list missing %q\n\nGot:\n%s", expected, output)
		}
	}
}

func TestExportCommand(t *testing.T) {
	output := executeCommand(t, "export", "hero-cta", "--format", "csv")

	if strings.TrimSpace(output) != "id,timestamp,variant_id,subject_id,converted,goal,value" {
		t.Errorf("unexpected export:\n%s", output)
	}
}

func TestFrameworkMapping(t *testing.T) {
	tests := []struct {
		index    int
		expected snippets.Framework
	}{
		{0, snippets.FrameworkHTML},
		{1, snippets.FrameworkNextJS},
		{2, snippets.FrameworkReact},
		{3, snippets.FrameworkVue},
		{4, snippets.FrameworkSvelte},
		{5, snippets.FrameworkLaravel},
		{6, snippets.FrameworkDjango},
		{7, snippets.FrameworkHTML},
	}

	for _, tc := range tests {
		if result := frameworkFromIndex(tc.index); result != tc.expected {
			t.Errorf("frameworkFromIndex(%d) = %s, want %s", tc.index, result, tc.expected)
		}
	}
}

func TestPrintSnippets(t *testing.T) {
	var buf bytes.Buffer
	printSnippets(&buf, []snippets.SnippetFile{
		{Filename: "a.html", Content: "<a>"},
		{Filename: "b.html", Content: "<b>"},
	})
	output := buf.String()
	if !strings.Contains(output, " a.html\n") || !strings.Contains(output, " b.html\n") {
		t.Errorf("missing file headers:\n%s", output)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
	}
	for _, tc := range tests {
		if got := formatNumber(tc.n); got != tc.want {
			t.Errorf("formatNumber(%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}

func TestPrintAnalysis(t *testing.T) {
	result := stats.Analyze([]stats.Count{
		{VariantID: "control", Exposures: 1000, Conversions: 50},
		{VariantID: "variant-a", Exposures: 1000, Conversions: 100},
	})

	var buf bytes.Buffer
	printAnalysis(&buf, result)
	output := buf.String()

	if !strings.Contains(output, "variant-a") || !strings.Contains(output, "← LEADING") {
		t.Errorf("missing leader:\n%s", output)
	}
	if !strings.Contains(output, "10.00%") {
		t.Errorf("missing rate:\n%s", output)
	}
	if !strings.Contains(output, `confident "variant-a" is the winner`) {
		t.Errorf("missing significance line:\n%s", output)
	}
}

func TestPrintAnalysis_NoData(t *testing.T) {
	result := stats.Analyze([]stats.Count{{VariantID: "control"}, {VariantID: "variant-a"}})

	var buf bytes.Buffer
	printAnalysis(&buf, result)
	output := buf.String()

	if !strings.Contains(output, "N/A") {
		t.Errorf("expected N/A interval:\n%s", output)
	}
	if !strings.Contains(output, "Not enough data") {
		t.Errorf("expected not enough data:\n%s", output)
	}
}

func TestPrintFunnelMetrics(t *testing.T) {
	var buf bytes.Buffer
	err := printFunnelMetrics(&buf, []funnel.StepMetrics{
		{StepID: "pricing", Visitors: 2000, Conversions: 1000, ConversionRate: 50, DropoffRate: 50, AverageTimeMs: 1500},
	})
	if err != nil {
		t.Fatal(err)
	}
	output := buf.String()
	for _, expected := range []string{"pricing", "2,000", "50.00%", "1.5s"} {
		if !strings.Contains(output, expected) {
			t.Errorf("missing %q:\n%s", expected, output)
		}
	}
}
