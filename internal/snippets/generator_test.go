package snippets_test

import (
	"strings"
	"testing"

	"github.com/headline-goat/growthgoat/internal/snippets"
)

func heroConfig() snippets.Config {
	return snippets.Config{
		ExperimentID: "hero-cta",
		Variants:     []string{"control", "variant-a"},
		Goal:         "signup",
		ServerURL:    "http://localhost:8080/",
	}
}

func TestGenerate_HTML(t *testing.T) {
	files, err := snippets.Generate(snippets.FrameworkHTML, heroConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}

	content := files[0].Content
	for _, want := range []string{
		`<script src="http://localhost:8080/gg.js" defer></script>`,
		`data-gg-variant="control"`,
		`data-gg-variant="variant-a"`,
		`gg.variant('hero-cta')`,
		`gg.convert('hero-cta', 'signup')`,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("missing %q in:\n%s", want, content)
		}
	}
}

func TestGenerate_FileNames(t *testing.T) {
	tests := []struct {
		framework snippets.Framework
		want      []string
	}{
		{snippets.FrameworkReact, []string{"useGrowthgoat.ts", "HeroCta.tsx"}},
		{snippets.FrameworkNextJS, []string{"app/layout.tsx", "useGrowthgoat.ts", "HeroCta.tsx"}},
		{snippets.FrameworkVue, []string{"index.html", "HeroCta.vue"}},
		{snippets.FrameworkSvelte, []string{"src/app.html", "HeroCta.svelte"}},
		{snippets.FrameworkLaravel, []string{"resources/views/layouts/app.blade.php"}},
		{snippets.FrameworkDjango, []string{"templates/base.html"}},
	}

	for _, tc := range tests {
		t.Run(string(tc.framework), func(t *testing.T) {
			files, err := snippets.Generate(tc.framework, heroConfig())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(files) != len(tc.want) {
				t.Fatalf("got %d files, want %d", len(files), len(tc.want))
			}
			for i, f := range files {
				if f.Filename != tc.want[i] {
					t.Errorf("file %d: got %s, want %s", i, f.Filename, tc.want[i])
				}
			}
		})
	}
}

func TestGenerate_NextJSLayout(t *testing.T) {
	files, err := snippets.Generate(snippets.FrameworkNextJS, heroConfig())
	if err != nil {
		t.Fatal(err)
	}
	layout := files[0].Content
	if !strings.Contains(layout, `<Script src="http://localhost:8080/gg.js" strategy="afterInteractive" />`) {
		t.Errorf("unexpected layout:\n%s", layout)
	}
}

func TestGenerate_VariantsJSON(t *testing.T) {
	files, err := snippets.Generate(snippets.FrameworkDjango, heroConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(files[0].Content, `data-gg-variants='["control","variant-a"]'`) {
		t.Errorf("variants not rendered:\n%s", files[0].Content)
	}
}

func TestGenerate_DefaultGoal(t *testing.T) {
	cfg := heroConfig()
	cfg.Goal = ""
	files, err := snippets.Generate(snippets.FrameworkHTML, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(files[0].Content, `'conversion'`) {
		t.Error("expected default goal")
	}
}

func TestGenerate_Errors(t *testing.T) {
	if _, err := snippets.Generate(snippets.FrameworkHTML, snippets.Config{Variants: []string{"a"}}); err == nil {
		t.Error("expected error for missing experiment id")
	}
	if _, err := snippets.Generate(snippets.FrameworkHTML, snippets.Config{ExperimentID: "x"}); err == nil {
		t.Error("expected error for missing variants")
	}
}

func TestParseFramework(t *testing.T) {
	if f, err := snippets.ParseFramework("NextJS"); err != nil || f != snippets.FrameworkNextJS {
		t.Errorf("got %q, %v", f, err)
	}
	if _, err := snippets.ParseFramework("angular"); err == nil {
		t.Error("expected error")
	}
}
