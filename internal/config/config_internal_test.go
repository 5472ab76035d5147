package config

import (
	"testing"

	"newsportal/internal/domain"
)

func TestParseJobOverrides(t *testing.T) {
	data := []byte(`
jobs:
  - id: news_sender
    spec: "*/10 * * * *"
    maxInstances: 2
  - id: " delete_old_job_executions "
    spec: "@weekly"
`)

	overrides, err := parseJobOverrides(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(overrides))
	}

	if got := overrides["delete_old_job_executions"].Spec; got != "@weekly" {
		t.Fatalf("expected trimmed id lookup, got spec %q", got)
	}
}

func TestParseJobOverridesRejectsMissingID(t *testing.T) {
	if _, err := parseJobOverrides([]byte("jobs:\n  - spec: \"@daily\"\n")); err == nil {
		t.Fatalf("expected error for job without id")
	}
}

func TestApplyOverride(t *testing.T) {
	def := domain.JobDefinition{
		ID:              "news_sender",
		Spec:            "0 8 * * mon",
		MaxInstances:    1,
		ReplaceExisting: true,
	}

	tests := []struct {
		name      string
		overrides map[string]domain.JobDefinition
		want      domain.JobDefinition
	}{
		{
			"No overrides",
			nil,
			def,
		},
		{
			"Other job",
			map[string]domain.JobDefinition{"other": {ID: "other", Spec: "@daily"}},
			def,
		},
		{
			"Spec only",
			map[string]domain.JobDefinition{"news_sender": {ID: "news_sender", Spec: "@daily"}},
			domain.JobDefinition{ID: "news_sender", Spec: "@daily", MaxInstances: 1, ReplaceExisting: true},
		},
		{
			"Spec and instances",
			map[string]domain.JobDefinition{"news_sender": {ID: "news_sender", Spec: "@hourly", MaxInstances: 3}},
			domain.JobDefinition{ID: "news_sender", Spec: "@hourly", MaxInstances: 3, ReplaceExisting: true},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ApplyOverride(def, test.overrides)

			if got != test.want {
				t.Errorf("Expected %+v, got %+v", test.want, got)
			}
		})
	}
}
