// Package snippets renders copy-paste integration code that wires a page to
// gg.js for one experiment.
package snippets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

type Framework string

const (
	FrameworkHTML    Framework = "html"
	FrameworkNextJS  Framework = "nextjs"
	FrameworkReact   Framework = "react"
	FrameworkVue     Framework = "vue"
	FrameworkSvelte  Framework = "svelte"
	FrameworkLaravel Framework = "laravel"
	FrameworkDjango  Framework = "django"
)

// Frameworks lists every supported framework in prompt order.
var Frameworks = []Framework{
	FrameworkHTML, FrameworkNextJS, FrameworkReact, FrameworkVue,
	FrameworkSvelte, FrameworkLaravel, FrameworkDjango,
}

// ParseFramework maps a flag value to a Framework.
func ParseFramework(s string) (Framework, error) {
	for _, f := range Frameworks {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown framework %q", s)
}

type Config struct {
	ExperimentID string
	Variants     []string // variant ids, control first
	Goal         string
	ServerURL    string
}

type SnippetFile struct {
	Filename string
	Content  string
}

type templateData struct {
	ExperimentID string
	Pascal       string
	Variants     []string
	VariantsJSON string
	Control      string
	Goal         string
	ServerURL    string
}

// Generate renders the files for framework. Unknown frameworks get the
// plain HTML snippet.
func Generate(framework Framework, config Config) ([]SnippetFile, error) {
	if config.ExperimentID == "" {
		return nil, fmt.Errorf("experiment id is required")
	}
	if len(config.Variants) == 0 {
		return nil, fmt.Errorf("experiment %s has no variants", config.ExperimentID)
	}
	data := buildTemplateData(config)

	var specs []fileTemplate
	switch framework {
	case FrameworkReact:
		specs = reactFiles
	case FrameworkNextJS:
		specs = append([]fileTemplate{nextLayout}, reactFiles...)
	case FrameworkVue:
		specs = vueFiles
	case FrameworkSvelte:
		specs = svelteFiles
	case FrameworkLaravel:
		specs = laravelFiles
	case FrameworkDjango:
		specs = djangoFiles
	default:
		specs = htmlFiles
	}

	files := make([]SnippetFile, 0, len(specs))
	for _, s := range specs {
		name, err := renderTemplate("name", s.name, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render file name %s: %w", s.name, err)
		}
		content, err := renderTemplate(name, s.body, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", name, err)
		}
		files = append(files, SnippetFile{Filename: name, Content: content})
	}
	return files, nil
}

func buildTemplateData(config Config) templateData {
	variantsJSON, _ := json.Marshal(config.Variants)
	goal := config.Goal
	if goal == "" {
		goal = "conversion"
	}
	return templateData{
		ExperimentID: config.ExperimentID,
		Pascal:       toPascalCase(config.ExperimentID),
		Variants:     config.Variants,
		VariantsJSON: string(variantsJSON),
		Control:      config.Variants[0],
		Goal:         goal,
		ServerURL:    strings.TrimRight(config.ServerURL, "/"),
	}
}

// toPascalCase turns "hero-cta" into "HeroCta".
func toPascalCase(s string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || r == ' ' }) {
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

func renderTemplate(name, content string, data templateData) (string, error) {
	tmpl, err := template.New(name).Delims("[[", "]]").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type fileTemplate struct {
	name string
	body string
}

var htmlFiles = []fileTemplate{{"index.html", `<!-- growthgoat experiment: [[.ExperimentID]] -->
<script src="[[.ServerURL]]/gg.js" defer></script>

<div data-gg-experiment="[[.ExperimentID]]">
[[- range .Variants]]
  <div data-gg-variant="[[.]]" hidden>...</div>
[[- end]]
</div>
<button data-gg-track="[[.ExperimentID]]-cta" id="[[.ExperimentID]]-cta">Get Started</button>

<script>
  window.addEventListener('load', function () {
    var gg = window.growthgoat;
    gg.variant('[[.ExperimentID]]').then(function (res) {
      var id = res && res.variant ? res.variant.id : '[[.Control]]';
      var el = document.querySelector('[data-gg-experiment="[[.ExperimentID]]"] [data-gg-variant="' + id + '"]');
      if (el) el.hidden = false;
      gg.expose('[[.ExperimentID]]');
    });
    document.getElementById('[[.ExperimentID]]-cta').addEventListener('click', function () {
      gg.convert('[[.ExperimentID]]', '[[.Goal]]');
    });
    document.addEventListener('growthgoat:offer', function (e) {
      console.log('offer', e.detail);
    });
  });
</script>
`}}

var reactFiles = []fileTemplate{
	{"useGrowthgoat.ts", `import { useEffect, useState } from 'react';

declare global {
  interface Window { growthgoat?: any }
}

export function useVariant(experimentId: string, fallback: string): string {
  const [variant, setVariant] = useState<string>(fallback);

  useEffect(() => {
    const gg = window.growthgoat;
    if (!gg) return;
    gg.variant(experimentId).then((res: any) => {
      if (res?.variant?.id) setVariant(res.variant.id);
      gg.expose(experimentId);
    });
  }, [experimentId]);

  return variant;
}

export function convert(experimentId: string, goal: string, value?: number) {
  window.growthgoat?.convert(experimentId, goal, value);
}
`},
	{"[[.Pascal]].tsx", `'use client';

import { useVariant, convert } from './useGrowthgoat';

const VARIANTS: string[] = [[.VariantsJSON]];

export function [[.Pascal]]() {
  const variant = useVariant('[[.ExperimentID]]', '[[.Control]]');

  return (
    <section data-gg-variant={variant}>
      {/* render content for each of: {VARIANTS.join(', ')} */}
      <button data-gg-track="[[.ExperimentID]]-cta" onClick={() => convert('[[.ExperimentID]]', '[[.Goal]]')}>
        Get Started
      </button>
    </section>
  );
}
`},
}

var nextLayout = fileTemplate{"app/layout.tsx", `import Script from 'next/script';

export default function RootLayout({ children }: { children: React.ReactNode }) {
  return (
    <html lang="en">
      <body>
        {children}
        <Script src="[[.ServerURL]]/gg.js" strategy="afterInteractive" />
      </body>
    </html>
  );
}
`}

var vueFiles = []fileTemplate{
	{"index.html", `<!-- add to <head>, or to app.head.script in nuxt.config.ts -->
<script src="[[.ServerURL]]/gg.js" defer></script>
`},
	{"[[.Pascal]].vue", `<template>
  <section :data-gg-variant="variant">
    <button data-gg-track="[[.ExperimentID]]-cta" @click="onConvert">Get Started</button>
  </section>
</template>

<script setup lang="ts">
import { ref, onMounted } from 'vue';

const VARIANTS: string[] = [[.VariantsJSON]];
const variant = ref<string>('[[.Control]]');

onMounted(async () => {
  const gg = (window as any).growthgoat;
  if (!gg) return;
  const res = await gg.variant('[[.ExperimentID]]');
  if (res?.variant?.id && VARIANTS.includes(res.variant.id)) variant.value = res.variant.id;
  gg.expose('[[.ExperimentID]]');
});

function onConvert() {
  (window as any).growthgoat?.convert('[[.ExperimentID]]', '[[.Goal]]');
}
</script>
`},
}

var svelteFiles = []fileTemplate{
	{"src/app.html", `<!-- inside %sveltekit.head% -->
<script src="[[.ServerURL]]/gg.js" defer></script>
`},
	{"[[.Pascal]].svelte", `<script lang="ts">
  import { onMount } from 'svelte';

  const VARIANTS: string[] = [[.VariantsJSON]];
  let variant = '[[.Control]]';

  onMount(async () => {
    const gg = (window as any).growthgoat;
    if (!gg) return;
    const res = await gg.variant('[[.ExperimentID]]');
    if (res?.variant?.id && VARIANTS.includes(res.variant.id)) variant = res.variant.id;
    gg.expose('[[.ExperimentID]]');
  });
</script>

<section data-gg-variant={variant}>
  <button data-gg-track="[[.ExperimentID]]-cta" on:click={() => (window as any).growthgoat?.convert('[[.ExperimentID]]', '[[.Goal]]')}>
    Get Started
  </button>
</section>
`},
}

var laravelFiles = []fileTemplate{{"resources/views/layouts/app.blade.php", `<script src="[[.ServerURL]]/gg.js" defer></script>

<section data-gg-experiment="[[.ExperimentID]]" data-gg-variants='@json([[.VariantsJSON]])'>
  <button data-gg-track="[[.ExperimentID]]-cta"
          onclick="window.growthgoat && window.growthgoat.convert('[[.ExperimentID]]', '[[.Goal]]')">
    Get Started
  </button>
</section>
`}}

var djangoFiles = []fileTemplate{{"templates/base.html", `<script src="[[.ServerURL]]/gg.js" defer></script>

<section data-gg-experiment="[[.ExperimentID]]" data-gg-variants='[[.VariantsJSON]]'>
  <button data-gg-track="[[.ExperimentID]]-cta"
          onclick="window.growthgoat && window.growthgoat.convert('[[.ExperimentID]]', '[[.Goal]]')">
    Get Started
  </button>
</section>
`}}
