package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileRule is the on-disk shape of a rule. Durations are integer
// milliseconds, matching the callback services' configuration convention.
type fileRule struct {
	ID       string      `yaml:"id"`
	Match    *Pattern    `yaml:"match"`
	Callback Callback    `yaml:"callback"`
	Options  fileOptions `yaml:"options"`
}

type fileOptions struct {
	ResourceFormat string `yaml:"resourceFormat"`
	GracePeriod    *int64 `yaml:"gracePeriod"`
	IgnoreFromSelf bool   `yaml:"ignoreFromSelf"`
	Retry          *int   `yaml:"retry"`
	RetryTimeout   *int64 `yaml:"retryTimeout"`
}

func (f fileRule) toRule(index int) Rule {
	r := Rule{
		ID:       strings.TrimSpace(f.ID),
		Callback: Callback{URL: strings.TrimSpace(f.Callback.URL), Method: strings.ToUpper(strings.TrimSpace(f.Callback.Method))},
		Options: Options{
			ResourceFormat: ResourceFormat(f.Options.ResourceFormat),
			IgnoreFromSelf: f.Options.IgnoreFromSelf,
			Retry:          f.Options.Retry,
		},
	}
	if f.Match != nil {
		r.Match = *f.Match
	}
	if r.ID == "" {
		r.ID = fmt.Sprintf("rule-%d", index)
	}
	if f.Options.GracePeriod != nil {
		r.Options.GracePeriod = time.Duration(*f.Options.GracePeriod) * time.Millisecond
	}
	if f.Options.RetryTimeout != nil {
		r.Options.RetryTimeout = time.Duration(*f.Options.RetryTimeout) * time.Millisecond
	}
	return r
}

// LoadFile reads and validates a rule file. JSON files are accepted as
// YAML. The top level is either a list of rules or a mapping with a
// "rules" key.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}

	rules, missing, err := parse(data)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	if len(missing) > 0 {
		problems := missing
		var verr *ValidationError
		if errors.As(Validate(rules), &verr) {
			problems = append(problems, verr.Errors...)
		}
		sort.SliceStable(problems, func(i, j int) bool { return problems[i].Index < problems[j].Index })
		return nil, &ValidationError{Errors: problems}
	}

	return NewTable(rules)
}

// Parse decodes rule definitions. A rule without a "match" key is rejected
// with a *ValidationError; an explicit empty mapping selects every
// statement. Other fields are left to Validate. Unknown keys are rejected
// so that a misspelled option does not silently fall back to its default.
func Parse(data []byte) ([]Rule, error) {
	rules, missing, err := parse(data)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Errors: missing}
	}
	return rules, nil
}

// parse decodes rules and reports the rules that have no match key.
func parse(data []byte) ([]Rule, []FieldError, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil, nil
	}

	var raw []fileRule
	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		if err := decodeStrict(data, &raw); err != nil {
			return nil, nil, err
		}
	case yaml.MappingNode:
		var doc struct {
			Rules []fileRule `yaml:"rules"`
		}
		if err := decodeStrict(data, &doc); err != nil {
			return nil, nil, err
		}
		raw = doc.Rules
	default:
		return nil, nil, errors.New("rules document must be a list or a mapping with a \"rules\" key")
	}

	out := make([]Rule, len(raw))
	var missing []FieldError
	for i, f := range raw {
		out[i] = f.toRule(i)
		if f.Match == nil {
			missing = append(missing, FieldError{
				Index:   i,
				RuleID:  out[i].ID,
				Field:   "match",
				Message: "match is required (use {} to match every statement)",
			})
		}
	}
	return out, missing, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode rules: %w", err)
	}
	return nil
}
