package main

import (
	"encoding/json"
	"strings"
	"testing"

	"mercator-hq/notifier/pkg/cli"
	"mercator-hq/notifier/pkg/server"
)

func TestRulesValidate_Valid(t *testing.T) {
	path := writeFile(t, "rules.yaml", testRulesYAML)

	out, err := execute(t, nil, "rules", "validate", "--file", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "2 rules valid") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRulesValidate_Invalid(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
- id: broken
  match: {}
  callback:
    url: "not a url"
    method: POST
  options:
    resourceFormat: "v9"
`)

	out, err := execute(t, nil, "rules", "validate", "--file", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if code := cli.ExitCode(err); code != cli.ExitInvalid {
		t.Errorf("exit code = %d, want %d", code, cli.ExitInvalid)
	}
	if !strings.Contains(out, "✗") || !strings.Contains(out, "  - ") {
		t.Errorf("expected problems to be listed, got: %s", out)
	}
}

func TestRulesValidate_MissingFile(t *testing.T) {
	_, err := execute(t, nil, "rules", "validate", "--file", "/nonexistent/rules.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if code := cli.ExitCode(err); code != cli.ExitInvalid {
		t.Errorf("exit code = %d, want %d", code, cli.ExitInvalid)
	}
}

func TestRulesList_Text(t *testing.T) {
	path := writeFile(t, "rules.yaml", testRulesYAML)

	out, err := execute(t, nil, "rules", "list", "--file", path)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	for _, want := range []string{"ID", "CALLBACK", "books", "everything", "<http://schema.org/Book>", "*"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "secret") {
		t.Errorf("callback credentials leaked:\n%s", out)
	}
}

func TestRulesList_JSON(t *testing.T) {
	path := writeFile(t, "rules.yaml", testRulesYAML)

	out, err := execute(t, nil, "rules", "list", "--file", path, "--format", "json")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	var views []server.RuleView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(views))
	}
	if views[0].ID != "books" || views[0].Options.GracePeriod != 1000 || !views[0].Options.IgnoreFromSelf {
		t.Errorf("unexpected first rule: %+v", views[0])
	}
	if views[1].Options.GracePeriod != 0 {
		t.Errorf("missing grace period should be 0, got %d", views[1].Options.GracePeriod)
	}
}

func TestRulesList_UnknownFormat(t *testing.T) {
	path := writeFile(t, "rules.yaml", testRulesYAML)

	_, err := execute(t, nil, "rules", "list", "--file", path, "--format", "xml")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if code := cli.ExitCode(err); code != cli.ExitInvalid {
		t.Errorf("exit code = %d, want %d", code, cli.ExitInvalid)
	}
}
