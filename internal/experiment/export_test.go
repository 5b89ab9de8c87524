package experiment_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/headline-goat/growthgoat/internal/experiment"
)

func exportFixture() []experiment.Result {
	value := 49.5
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []experiment.Result{
		{ID: "r1", ExperimentID: "hero-cta", VariantID: "control", SubjectID: "u1", Timestamp: at},
		{ID: "r2", ExperimentID: "hero-cta", VariantID: "control", SubjectID: "u1", Converted: true, Goal: "signup", Value: &value, Timestamp: at.Add(time.Minute)},
	}
}

func TestExport_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := experiment.Export(&buf, experiment.FormatCSV, "hero-cta", exportFixture()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"id,timestamp,variant_id,subject_id,converted,goal,value",
		"r1,2026-03-01T12:00:00Z,control,u1,false,,",
		"r2,2026-03-01T12:01:00Z,control,u1,true,signup,49.5",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestExport_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := experiment.Export(&buf, experiment.FormatJSON, "hero-cta", nil); err != nil {
		t.Fatal(err)
	}
	var got struct {
		ExperimentID string              `json:"experimentId"`
		Results      []experiment.Result `json:"results"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ExperimentID != "hero-cta" || got.Results == nil || len(got.Results) != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestExport_InvalidFormat(t *testing.T) {
	if err := experiment.Export(&bytes.Buffer{}, "xml", "hero-cta", nil); err == nil {
		t.Error("expected error")
	}
}
