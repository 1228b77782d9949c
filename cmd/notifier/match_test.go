package main

import (
	"encoding/json"
	"strings"
	"testing"

	"mercator-hq/notifier/pkg/cli"
)

const testBookInsert = `{
  "origin": "http://editor",
  "direction": "insert",
  "statements": [
    {
      "subject": {"type": "uri", "value": "http://books/1"},
      "predicate": {"type": "uri", "value": "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"},
      "object": {"type": "uri", "value": "http://schema.org/Book"}
    },
    {
      "subject": {"type": "uri", "value": "http://books/1"},
      "predicate": {"type": "uri", "value": "http://schema.org/name"},
      "object": {"type": "literal", "value": "Dune"}
    }
  ]
}`

const testMuDelta = `[
  {
    "inserts": [
      {
        "subject": {"type": "uri", "value": "http://books/2"},
        "predicate": {"type": "uri", "value": "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"},
        "object": {"type": "uri", "value": "http://schema.org/Book"}
      }
    ],
    "deletes": []
  }
]`

func decodeMatches(t *testing.T, out string) []MatchResult {
	t.Helper()
	var results []MatchResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	return results
}

func findResult(results []MatchResult, changeset int, ruleID string) (MatchResult, bool) {
	for _, r := range results {
		if r.Changeset == changeset && r.RuleID == ruleID {
			return r, true
		}
	}
	return MatchResult{}, false
}

func TestMatch_Native(t *testing.T) {
	rulesPath := writeFile(t, "rules.yaml", testRulesYAML)
	csPath := writeFile(t, "changeset.json", testBookInsert)

	out, err := execute(t, nil, "match",
		"--rules", rulesPath,
		"--changeset", csPath,
		"--identity", "http://notifier",
		"--format", "json",
	)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}

	results := decodeMatches(t, out)
	if len(results) != 2 {
		t.Fatalf("expected one result per rule, got %d", len(results))
	}

	books, ok := findResult(results, 0, "books")
	if !ok {
		t.Fatal("no result for rule books")
	}
	if books.Result != "match" || len(books.Statements) != 1 {
		t.Errorf("books: result %q with %d statements, want match with 1", books.Result, len(books.Statements))
	}

	everything, _ := findResult(results, 0, "everything")
	if everything.Result != "match" || len(everything.Statements) != 2 {
		t.Errorf("everything: result %q with %d statements, want match with 2", everything.Result, len(everything.Statements))
	}
}

func TestMatch_MuSelfOrigin(t *testing.T) {
	rulesPath := writeFile(t, "rules.yaml", testRulesYAML)
	csPath := writeFile(t, "delta.json", testMuDelta)

	out, err := execute(t, nil, "match",
		"--rules", rulesPath,
		"--changeset", csPath,
		"--mu",
		"--origin", "http://notifier",
		"--identity", "http://notifier",
		"--format", "json",
	)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}

	results := decodeMatches(t, out)
	books, _ := findResult(results, 0, "books")
	if books.Result != "ignored" {
		t.Errorf("books should ignore self-originated changesets, got %q", books.Result)
	}
	everything, _ := findResult(results, 0, "everything")
	if everything.Result != "match" {
		t.Errorf("everything does not ignore self, got %q", everything.Result)
	}
	if everything.Origin != "http://notifier" {
		t.Errorf("origin = %q, want http://notifier", everything.Origin)
	}
}

func TestMatch_Stdin(t *testing.T) {
	rulesPath := writeFile(t, "rules.yaml", testRulesYAML)
	deletion := strings.Replace(testBookInsert, `"insert"`, `"deletes"`, 1)

	out, err := execute(t, strings.NewReader(deletion), "match",
		"--rules", rulesPath,
		"--identity", "http://notifier",
	)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}

	for _, want := range []string{"CHANGESET", "delete", "books", "match"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMatch_NoMatch(t *testing.T) {
	rulesPath := writeFile(t, "rules.yaml", `
- id: jobs
  match:
    object:
      type: uri
      value: "http://vocab.deri.ie/cogs#Job"
  callback:
    url: "http://jobs/delta"
    method: POST
  options:
    resourceFormat: "v0.0.1"
`)
	csPath := writeFile(t, "changeset.json", testBookInsert)

	out, err := execute(t, nil, "match", "--rules", rulesPath, "--changeset", csPath, "--identity", "x", "--format", "json")
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}

	results := decodeMatches(t, out)
	if len(results) != 1 || results[0].Result != "no match" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestMatch_MalformedChangeset(t *testing.T) {
	rulesPath := writeFile(t, "rules.yaml", testRulesYAML)

	_, err := execute(t, strings.NewReader(`{"direction": "sideways", "statements": []}`), "match",
		"--rules", rulesPath,
		"--identity", "x",
	)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if code := cli.ExitCode(err); code != cli.ExitInvalid {
		t.Errorf("exit code = %d, want %d", code, cli.ExitInvalid)
	}
}
